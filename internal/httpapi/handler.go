package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"qms/branch-queue/internal/auth"
	"qms/branch-queue/internal/display"
	"qms/branch-queue/internal/hub"
	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/queue"
	"qms/branch-queue/internal/render"
	"qms/branch-queue/internal/report"
	"qms/branch-queue/internal/settings"
	"qms/branch-queue/internal/store"
)

// BoardSource provides the current display board.
type BoardSource interface {
	Board() display.Board
}

type Options struct {
	Issuer    *queue.Issuer
	Status    *queue.StatusLookup
	Archiver  *queue.Archiver
	Reports   *report.Service
	Settings  *settings.Service
	Directory *auth.Directory
	Sessions  *auth.SessionManager
	Board     BoardSource
	Hub       *hub.Hub
	Renderer  *render.TicketRenderer
	Printed   *render.Cache
	Logger    *slog.Logger
}

type Handler struct {
	issuer    *queue.Issuer
	status    *queue.StatusLookup
	archiver  *queue.Archiver
	reports   *report.Service
	settings  *settings.Service
	directory *auth.Directory
	sessions  *auth.SessionManager
	board     BoardSource
	hub       *hub.Hub
	renderer  *render.TicketRenderer
	printed   *render.Cache
	logger    *slog.Logger
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	renderer := options.Renderer
	if renderer == nil {
		renderer = render.NewTicketRenderer(render.Options{})
	}
	return &Handler{
		issuer:    options.Issuer,
		status:    options.Status,
		archiver:  options.Archiver,
		reports:   options.Reports,
		settings:  options.Settings,
		directory: options.Directory,
		sessions:  options.Sessions,
		board:     options.Board,
		hub:       options.Hub,
		renderer:  renderer,
		printed:   options.Printed,
		logger:    logger,
	}
}

// Routes returns the API mux behind session authentication.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/logout", h.handleLogout)
	mux.HandleFunc("/api/tickets", h.handleIssue)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/current", h.handleCurrent)
	mux.HandleFunc("/api/queue/", h.handleQueueAction)
	mux.HandleFunc("/api/dashboard", h.handleDashboard)
	mux.HandleFunc("/api/dashboard/reset", h.handleReset)
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/history/archive", h.handleArchive)
	mux.HandleFunc("/api/reports", h.handleReports)
	mux.HandleFunc("/api/reports/export", h.handleExport)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/display", h.handleDisplay)
	if h.hub != nil {
		mux.Handle("/display/", DisplayHandler(h.hub, h.board, h.logger))
	}
	return AuthMiddleware(h.sessions, mux)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	SessionID string         `json:"session_id"`
	ExpiresAt string         `json:"expires_at"`
	Operator  operatorInfo   `json:"operator"`
	Counter   models.Counter `json:"counter"`
}

type operatorInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	op, err := h.directory.Authenticate(req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.sessions.Create(op)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("operator login", "operator", op.Name, "counter", session.Workflow.Counter().Code)
	writeJSON(w, http.StatusOK, loginResponse{
		SessionID: session.ID,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
		Operator:  operatorInfo{Name: op.Name, Email: op.Email},
		Counter:   session.Workflow.Counter(),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	h.sessions.Delete(session.ID)
	w.WriteHeader(http.StatusNoContent)
}

type issueRequest struct {
	Counter string `json:"counter"`
}

type issueResponse struct {
	Ticket    models.Ticket `json:"ticket"`
	StatusURL string        `json:"status_url"`
	PrintURL  string        `json:"print_url"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req issueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Counter = strings.ToUpper(strings.TrimSpace(req.Counter))
	if req.Counter == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "counter is required")
		return
	}

	ticket, err := h.issuer.Issue(r.Context(), req.Counter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, issueResponse{
		Ticket:    ticket,
		StatusURL: h.issuer.Artifact(ticket).StatusURL,
		PrintURL:  "/api/tickets/" + ticket.TicketID + "/print",
	})
}

// handleTicket serves /api/tickets/{id} and /api/tickets/{id}/print.
func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), "/")
	parts := strings.Split(path, "/")
	if parts[0] == "" || len(parts) > 2 || (len(parts) == 2 && parts[1] != "print") {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	status, err := h.status.Lookup(r.Context(), parts[0])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(parts) == 1 {
		writeJSON(w, http.StatusOK, status)
		return
	}

	pdf, ok := h.cachedPDF(status.Ticket.TicketID)
	if !ok {
		pdf, err = h.renderer.PDF(h.issuer.Artifact(status.Ticket))
		if err != nil {
			metrics.RenderFailed()
			h.fail(w, r, err)
			return
		}
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="`+render.FileName(status.Ticket.TicketNumber)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) cachedPDF(ticketID string) ([]byte, bool) {
	if h.printed == nil {
		return nil, false
	}
	return h.printed.PDF(ticketID)
}

type queueResponse struct {
	Operator string          `json:"operator"`
	Counter  models.Counter  `json:"counter"`
	Current  *models.Ticket  `json:"current"`
	Waiting  []models.Ticket `json:"waiting"`
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workflow, ok := h.workflow(w, r)
	if !ok {
		return
	}
	waiting, err := workflow.Waiting(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp := queueResponse{
		Operator: workflow.Operator(),
		Counter:  workflow.Counter(),
		Waiting:  waiting,
	}
	if current, held := workflow.Current(); held {
		resp.Current = &current
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	workflow, ok := h.workflow(w, r)
	if !ok {
		return
	}
	current, held := workflow.Current()
	if !held {
		h.fail(w, r, queue.ErrNoCurrentTicket)
		return
	}
	writeJSON(w, http.StatusOK, current)
}

type noneAvailableResponse struct {
	NoneAvailable bool   `json:"none_available"`
	Message       string `json:"message"`
}

type finishRequest struct {
	CustomerName string `json:"customer_name"`
	Category     string `json:"category"`
	Note         string `json:"note"`
}

func (h *Handler) handleQueueAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/"), "/")
	workflow, ok := h.workflow(w, r)
	if !ok {
		return
	}

	switch action {
	case "call-next":
		ticket, err := workflow.CallNext(r.Context())
		if errors.Is(err, queue.ErrNoneAvailable) {
			// An empty queue is an outcome for the operator, not a failure.
			writeJSON(w, http.StatusOK, noneAvailableResponse{
				NoneAvailable: true,
				Message:       "no waiting ticket for this counter",
			})
			return
		}
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "recall":
		ticket, err := workflow.Recall(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "finish":
		var req finishRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		record, err := workflow.Finish(r.Context(), queue.FinishInput{
			CustomerName: req.CustomerName,
			Category:     req.Category,
			Note:         req.Note,
		})
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case "close":
		ticket, err := workflow.Close(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dash, err := h.reports.Dashboard(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

type countResponse struct {
	Count int `json:"count"`
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	deleted, err := h.issuer.Reset(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if session, ok := sessionFromContext(r.Context()); ok {
		h.logger.Info("queue reset", "operator", session.Operator.Name, "deleted", deleted)
	}
	writeJSON(w, http.StatusOK, countResponse{Count: deleted})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	sort, err := report.ParseSort(query.Get("sort"), query.Get("order"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	records, err := h.reports.History(r.Context(), report.HistoryFilter{
		CounterPrefix: query.Get("counter"),
		Sort:          sort,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleArchive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	moved, err := h.archiver.Archive(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: moved})
}

func (h *Handler) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filter, ok := h.reportFilter(w, r)
	if !ok {
		return
	}
	reports, err := h.reports.Reports(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filter, ok := h.reportFilter(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = report.FormatXLSX
	}
	if format != report.FormatXLSX && format != report.FormatCSV {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "format must be xlsx or csv")
		return
	}
	reports, err := h.reports.Reports(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+report.FileName(format, filter)+`"`)
	if err := h.reports.Export(w, format, reports); err != nil {
		h.logger.Error("report export", "format", format, "error", err)
	}
}

func (h *Handler) reportFilter(w http.ResponseWriter, r *http.Request) (report.ReportFilter, bool) {
	query := r.URL.Query()
	month, okMonth := optionalInt(query.Get("month"))
	year, okYear := optionalInt(query.Get("year"))
	if !okMonth || !okYear {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "month and year must be numbers")
		return report.ReportFilter{}, false
	}
	sort, err := report.ParseSort(query.Get("sort"), query.Get("order"))
	if err != nil {
		h.fail(w, r, err)
		return report.ReportFilter{}, false
	}
	return report.ReportFilter{Month: month, Year: year, Sort: sort}, true
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		current, err := h.settings.Get(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, current)
	case http.MethodPut:
		var patch settings.Patch
		if !decodeJSON(w, r, &patch) {
			return
		}
		updated, err := h.settings.Update(r.Context(), patch)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.board == nil {
		writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "unavailable", "display is not running")
		return
	}
	writeJSON(w, http.StatusOK, h.board.Board())
}

func (h *Handler) workflow(w http.ResponseWriter, r *http.Request) (*queue.Workflow, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return nil, false
	}
	return session.Workflow, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeError(w, requestIDFromRequest(r), status, code, message)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func optionalInt(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidCounter):
		return http.StatusBadRequest, "invalid_counter", "counter must be one of A, B, C"
	case errors.Is(err, queue.ErrValidation):
		return http.StatusBadRequest, "validation_error", err.Error()
	case errors.Is(err, report.ErrInvalidSort), errors.Is(err, report.ErrInvalidPeriod):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, queue.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, queue.ErrNoCurrentTicket):
		return http.StatusConflict, "no_current_ticket", "no ticket is being served"
	case errors.Is(err, queue.ErrUnrecognizedOperator):
		return http.StatusForbidden, "unrecognized_operator", "operator is not assigned to a counter"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials", "invalid credentials"
	case errors.Is(err, auth.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
