package models

import (
	"encoding/json"
	"fmt"
	"time"

	"qms/branch-queue/internal/store"
)

// NowServingKey addresses the projection overwritten by every call,
// whichever counter made it.
const NowServingKey = "now_serving"

// EmptyNumber is shown for a counter that has not called anyone yet.
const EmptyNumber = "-"

type ServingProjection struct {
	OperatorKey  string    `json:"operator_key"`
	TicketNumber string    `json:"ticket_number"`
	CounterLabel string    `json:"counter_label"`
	CalledAt     time.Time `json:"called_at"`
}

type projectionRecord struct {
	Number       string    `json:"number"`
	CounterLabel string    `json:"counter_label"`
	CalledAt     time.Time `json:"called_at"`
}

func (p ServingProjection) Record() any {
	return projectionRecord{
		Number:       p.TicketNumber,
		CounterLabel: p.CounterLabel,
		CalledAt:     p.CalledAt,
	}
}

func DecodeProjection(doc store.Document) (ServingProjection, error) {
	var rec projectionRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return ServingProjection{}, fmt.Errorf("%w: projection %s: %v", ErrInvalidRecord, doc.ID, err)
	}
	if rec.Number == "" {
		return ServingProjection{}, fmt.Errorf("%w: projection %s has no number", ErrInvalidRecord, doc.ID)
	}
	return ServingProjection{
		OperatorKey:  doc.ID,
		TicketNumber: rec.Number,
		CounterLabel: rec.CounterLabel,
		CalledAt:     rec.CalledAt,
	}, nil
}
