package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Notifier receives recall events. A recall changes nothing in the store,
// so this is the only way the display learns about it.
type Notifier interface {
	Recalled(ctx context.Context, projection models.ServingProjection)
}

type WorkflowOptions struct {
	Notifier Notifier
	Now      func() time.Time
	Logger   *slog.Logger
}

type FinishInput struct {
	CustomerName string
	Category     string
	Note         string
}

// Workflow drives the call cycle of one operator session. It holds at most
// one ticket: the result of the last successful CallNext.
type Workflow struct {
	store    store.DocStore
	operator string
	key      string
	counter  models.Counter
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger

	mu         sync.Mutex
	current    *models.Ticket
	projection models.ServingProjection
	// pending is the completion record already written for current when the
	// ticket transition of a Finish failed. A retry overwrites it.
	pending *models.CompletionRecord
}

func NewWorkflow(st store.DocStore, operatorName string, options WorkflowOptions) (*Workflow, error) {
	operatorName = strings.TrimSpace(operatorName)
	counter, err := ResolveOperator(operatorName)
	if err != nil {
		return nil, err
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{
		store:    st,
		operator: operatorName,
		key:      OperatorKey(operatorName),
		counter:  counter,
		notifier: options.Notifier,
		now:      now,
		logger:   logger,
	}, nil
}

func (w *Workflow) Operator() string {
	return w.operator
}

func (w *Workflow) OperatorKey() string {
	return w.key
}

func (w *Workflow) Counter() models.Counter {
	return w.counter
}

func (w *Workflow) Current() (models.Ticket, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return models.Ticket{}, false
	}
	return *w.current, true
}

// Waiting lists the counter's waiting tickets, oldest first.
func (w *Workflow) Waiting(ctx context.Context) ([]models.Ticket, error) {
	docs, err := w.store.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{
			store.Where(models.FieldCounter, store.OpEq, w.counter.Code),
			store.Where(models.FieldStatus, store.OpEq, models.StatusWaiting),
		},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt}},
	})
	if err != nil {
		return nil, err
	}
	return models.DecodeTickets(docs)
}

// CallNext calls the oldest waiting ticket of the operator's counter and
// publishes it on the operator's projection and on the shared one. A ticket
// already held is replaced without being finished.
func (w *Workflow) CallNext(ctx context.Context) (models.Ticket, error) {
	ctx, span := tracer.Start(ctx, "queue.call_next")
	defer span.End()
	span.SetAttributes(attribute.String("queue.counter", w.counter.Code), attribute.String("queue.operator", w.key))

	w.mu.Lock()
	defer w.mu.Unlock()

	docs, err := w.store.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{
			store.Where(models.FieldCounter, store.OpEq, w.counter.Code),
			store.Where(models.FieldStatus, store.OpEq, models.StatusWaiting),
		},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt}},
		Limit:   1,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "select")
		return models.Ticket{}, fmt.Errorf("select next ticket: %w", err)
	}
	if len(docs) == 0 {
		return models.Ticket{}, ErrNoneAvailable
	}
	ticket, err := models.DecodeTicket(docs[0])
	if err != nil {
		return models.Ticket{}, err
	}

	calledAt := w.now().UTC()
	err = w.store.Update(ctx, store.Tickets, ticket.TicketID, map[string]any{
		models.FieldStatus:   models.StatusCalled,
		models.FieldCalledAt: calledAt,
		models.FieldCalledBy: w.operator,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition")
		if errors.Is(err, store.ErrNotFound) {
			return models.Ticket{}, ErrTicketNotFound
		}
		return models.Ticket{}, fmt.Errorf("mark ticket called: %w", err)
	}
	ticket.Status = models.StatusCalled
	ticket.CalledAt = &calledAt
	ticket.CalledBy = w.operator

	projection := models.ServingProjection{
		OperatorKey:  w.key,
		TicketNumber: ticket.TicketNumber,
		CounterLabel: w.operator,
		CalledAt:     calledAt,
	}
	// The ticket is no longer waiting, so it is held even when the display
	// writes fail: the operator can still recall, finish or close it.
	w.current = &ticket
	w.projection = projection
	w.pending = nil
	metrics.TicketCalled(w.counter.Code)

	if err := w.store.Set(ctx, store.ServingProjections, w.key, projection.Record()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection")
		return ticket, fmt.Errorf("write serving projection: %w", err)
	}
	if err := w.store.Set(ctx, store.ServingProjections, models.NowServingKey, projection.Record()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection")
		return ticket, fmt.Errorf("write shared projection: %w", err)
	}

	w.logger.Info("ticket called", "operator", w.operator, "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber)
	return ticket, nil
}

// Recall announces the held ticket again without touching the store.
func (w *Workflow) Recall(ctx context.Context) (models.Ticket, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return models.Ticket{}, ErrNoCurrentTicket
	}
	if w.notifier != nil {
		w.notifier.Recalled(ctx, w.projection)
	}
	return *w.current, nil
}

// Finish records the service outcome of the held ticket and releases it.
// The serving projection keeps showing the number until the next call.
func (w *Workflow) Finish(ctx context.Context, input FinishInput) (models.CompletionRecord, error) {
	ctx, span := tracer.Start(ctx, "queue.finish")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return models.CompletionRecord{}, ErrNoCurrentTicket
	}

	input.CustomerName = strings.TrimSpace(input.CustomerName)
	input.Category = strings.TrimSpace(input.Category)
	input.Note = strings.TrimSpace(input.Note)
	if input.CustomerName == "" {
		return models.CompletionRecord{}, fmt.Errorf("%w: customer name is required", ErrValidation)
	}
	if !models.ValidCategory(input.Category) {
		return models.CompletionRecord{}, fmt.Errorf("%w: category must be one of %s", ErrValidation, strings.Join(models.Categories, ", "))
	}

	ticket := *w.current
	record := models.CompletionRecord{
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		Counter:      ticket.Counter,
		CounterLabel: w.operator,
		CustomerName: input.CustomerName,
		Category:     input.Category,
		Note:         input.Note,
	}
	if w.pending != nil {
		record.RecordID = w.pending.RecordID
		record.CompletedAt = w.pending.CompletedAt
		if err := w.store.Set(ctx, store.CompletionRecords, record.RecordID, record.Record()); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rewrite completion")
			return models.CompletionRecord{}, fmt.Errorf("rewrite completion record: %w", err)
		}
	} else {
		doc, err := w.store.Insert(ctx, store.CompletionRecords, record.Record())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "insert completion")
			return models.CompletionRecord{}, fmt.Errorf("insert completion record: %w", err)
		}
		record.RecordID = doc.ID
		record.CompletedAt = doc.CreatedAt
	}
	written := record
	w.pending = &written

	err := w.store.Update(ctx, store.Tickets, ticket.TicketID, map[string]any{
		models.FieldStatus:     models.StatusFinished,
		models.FieldFinishedAt: record.CompletedAt,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition")
		return models.CompletionRecord{}, fmt.Errorf("mark ticket finished: %w", err)
	}
	if err != nil {
		w.logger.Warn("finished ticket no longer exists", "ticket_id", ticket.TicketID)
	}

	w.current = nil
	w.pending = nil
	metrics.TicketFinished(ticket.Counter, record.Category)
	return record, nil
}

// Close deletes the held ticket. A ticket that is already gone counts as
// closed.
func (w *Workflow) Close(ctx context.Context) (models.Ticket, error) {
	ctx, span := tracer.Start(ctx, "queue.close")
	defer span.End()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return models.Ticket{}, ErrNoCurrentTicket
	}
	ticket := *w.current
	if err := w.store.Delete(ctx, store.Tickets, ticket.TicketID); err != nil && !errors.Is(err, store.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete")
		return models.Ticket{}, fmt.Errorf("delete ticket: %w", err)
	}
	w.current = nil
	w.pending = nil
	metrics.TicketClosed(ticket.Counter)
	return ticket, nil
}
