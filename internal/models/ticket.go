package models

import (
	"encoding/json"
	"fmt"
	"time"

	"qms/branch-queue/internal/store"
)

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	Counter      string     `json:"counter"`
	TicketNumber string     `json:"ticket_number"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
	CalledBy     string     `json:"called_by,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

const (
	StatusWaiting  = "waiting"
	StatusCalled   = "called"
	StatusFinished = "finished"
)

// Document field names of a stored ticket.
const (
	FieldCounter    = "counter"
	FieldNumber     = "number"
	FieldStatus     = "status"
	FieldCalledAt   = "called_at"
	FieldCalledBy   = "called_by"
	FieldFinishedAt = "finished_at"
)

type ticketRecord struct {
	Counter    string     `json:"counter"`
	Number     string     `json:"number"`
	Status     string     `json:"status"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	CalledBy   string     `json:"called_by,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Record returns the stored form of the ticket. Id and creation time are
// owned by the store.
func (t Ticket) Record() any {
	return ticketRecord{
		Counter:    t.Counter,
		Number:     t.TicketNumber,
		Status:     t.Status,
		CalledAt:   t.CalledAt,
		CalledBy:   t.CalledBy,
		FinishedAt: t.FinishedAt,
	}
}

func DecodeTicket(doc store.Document) (Ticket, error) {
	var rec ticketRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return Ticket{}, fmt.Errorf("%w: ticket %s: %v", ErrInvalidRecord, doc.ID, err)
	}
	if _, ok := LookupCounter(rec.Counter); !ok {
		return Ticket{}, fmt.Errorf("%w: ticket %s has unknown counter %q", ErrInvalidRecord, doc.ID, rec.Counter)
	}
	if rec.Number == "" {
		return Ticket{}, fmt.Errorf("%w: ticket %s has no number", ErrInvalidRecord, doc.ID)
	}
	switch rec.Status {
	case StatusWaiting, StatusCalled, StatusFinished:
	default:
		return Ticket{}, fmt.Errorf("%w: ticket %s has status %q", ErrInvalidRecord, doc.ID, rec.Status)
	}
	return Ticket{
		TicketID:     doc.ID,
		Counter:      rec.Counter,
		TicketNumber: rec.Number,
		Status:       rec.Status,
		CreatedAt:    doc.CreatedAt,
		CalledAt:     rec.CalledAt,
		CalledBy:     rec.CalledBy,
		FinishedAt:   rec.FinishedAt,
	}, nil
}

func DecodeTickets(docs []store.Document) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(docs))
	for _, doc := range docs {
		ticket, err := DecodeTicket(doc)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}
