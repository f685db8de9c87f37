package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("qms/branch-queue/queue")

// Renderer produces the printable artifact of a newly issued ticket.
type Renderer interface {
	RenderTicket(ctx context.Context, artifact models.TicketArtifact) error
}

type IssuerOptions struct {
	Sequencer Sequencer
	Renderer  Renderer
	// StatusURL builds the link encoded on the printed ticket.
	StatusURL func(ticketID string) string
	Logger    *slog.Logger
}

type Issuer struct {
	store     store.DocStore
	sequencer Sequencer
	renderer  Renderer
	statusURL func(string) string
	logger    *slog.Logger
}

func NewIssuer(st store.DocStore, options IssuerOptions) *Issuer {
	seq := options.Sequencer
	if seq == nil {
		seq = NewLatestSequencer(st)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	statusURL := options.StatusURL
	if statusURL == nil {
		statusURL = func(ticketID string) string { return "/api/tickets/" + ticketID }
	}
	return &Issuer{
		store:     st,
		sequencer: seq,
		renderer:  options.Renderer,
		statusURL: statusURL,
		logger:    logger,
	}
}

// Issue allocates the next number of the counter and stores a waiting
// ticket. Rendering the printable ticket is best effort: a failure is
// logged and the stored ticket is kept.
func (i *Issuer) Issue(ctx context.Context, counterCode string) (models.Ticket, error) {
	ctx, span := tracer.Start(ctx, "queue.issue")
	defer span.End()
	span.SetAttributes(attribute.String("queue.counter", counterCode))

	counter, ok := models.LookupCounter(counterCode)
	if !ok {
		return models.Ticket{}, ErrInvalidCounter
	}

	seq, err := i.sequencer.Next(ctx, counter.Code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sequence")
		return models.Ticket{}, fmt.Errorf("next ticket number: %w", err)
	}

	ticket := models.Ticket{
		Counter:      counter.Code,
		TicketNumber: models.FormatTicketNumber(counter.Code, seq),
		Status:       models.StatusWaiting,
	}
	doc, err := i.store.Insert(ctx, store.Tickets, ticket.Record())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert")
		return models.Ticket{}, fmt.Errorf("insert ticket: %w", err)
	}
	ticket.TicketID = doc.ID
	ticket.CreatedAt = doc.CreatedAt
	span.SetAttributes(attribute.String("queue.ticket_number", ticket.TicketNumber))
	metrics.TicketIssued(counter.Code)

	if i.renderer != nil {
		if err := i.renderer.RenderTicket(ctx, i.Artifact(ticket)); err != nil {
			metrics.RenderFailed()
			i.logger.Warn("ticket render failed", "ticket_id", ticket.TicketID, "ticket_number", ticket.TicketNumber, "error", err)
		}
	}
	return ticket, nil
}

func (i *Issuer) Artifact(ticket models.Ticket) models.TicketArtifact {
	label := ticket.Counter
	if counter, ok := models.LookupCounter(ticket.Counter); ok {
		label = counter.Name
	}
	return models.TicketArtifact{
		TicketID:     ticket.TicketID,
		TicketNumber: ticket.TicketNumber,
		CounterLabel: label,
		StatusURL:    i.statusURL(ticket.TicketID),
		IssuedAt:     ticket.CreatedAt,
	}
}

// Reset deletes every ticket and restarts numbering.
func (i *Issuer) Reset(ctx context.Context) (int, error) {
	docs, err := i.store.QueryOnce(ctx, store.Tickets, store.Query{})
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, doc := range docs {
		if err := i.store.Delete(ctx, store.Tickets, doc.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return deleted, fmt.Errorf("delete ticket %s: %w", doc.ID, err)
		}
		deleted++
	}
	if resetter, ok := i.sequencer.(Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return deleted, fmt.Errorf("reset sequence: %w", err)
		}
	}
	return deleted, nil
}
