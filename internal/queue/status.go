package queue

import (
	"context"
	"errors"
	"time"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

const DefaultMinutesPerTicket = 3

type TicketStatus struct {
	Ticket        models.Ticket `json:"ticket"`
	CounterName   string        `json:"counter_name"`
	Ahead         int           `json:"ahead"`
	EstimatedWait time.Duration `json:"-"`
	EstimatedMins int           `json:"estimated_wait_minutes"`
}

type StatusLookup struct {
	store            store.DocStore
	minutesPerTicket int
}

func NewStatusLookup(st store.DocStore, minutesPerTicket int) *StatusLookup {
	if minutesPerTicket <= 0 {
		minutesPerTicket = DefaultMinutesPerTicket
	}
	return &StatusLookup{store: st, minutesPerTicket: minutesPerTicket}
}

// Lookup returns the ticket with the number of waiting tickets of the same
// counter created before it. Closed tickets are not found.
func (l *StatusLookup) Lookup(ctx context.Context, ticketID string) (TicketStatus, error) {
	doc, err := l.store.Get(ctx, store.Tickets, ticketID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TicketStatus{}, ErrTicketNotFound
		}
		return TicketStatus{}, err
	}
	ticket, err := models.DecodeTicket(doc)
	if err != nil {
		return TicketStatus{}, err
	}

	ahead, err := l.store.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{
			store.Where(models.FieldCounter, store.OpEq, ticket.Counter),
			store.Where(models.FieldStatus, store.OpEq, models.StatusWaiting),
			store.Where(store.FieldCreatedAt, store.OpLt, ticket.CreatedAt),
		},
	})
	if err != nil {
		return TicketStatus{}, err
	}

	status := TicketStatus{
		Ticket: ticket,
		Ahead:  len(ahead),
	}
	if counter, ok := models.LookupCounter(ticket.Counter); ok {
		status.CounterName = counter.Name
	}
	if ticket.Status == models.StatusWaiting {
		status.EstimatedMins = status.Ahead * l.minutesPerTicket
		status.EstimatedWait = time.Duration(status.EstimatedMins) * time.Minute
	}
	return status, nil
}
