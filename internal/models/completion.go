package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qms/branch-queue/internal/store"
)

const (
	CategoryCard        = "Card"
	CategoryApplication = "Application"
	CategoryDeposit     = "Deposit"
	CategoryTimeDeposit = "TimeDeposit"
	CategoryLoan        = "Loan"
)

var Categories = []string{
	CategoryCard,
	CategoryApplication,
	CategoryDeposit,
	CategoryTimeDeposit,
	CategoryLoan,
}

func ValidCategory(category string) bool {
	for _, c := range Categories {
		if c == category {
			return true
		}
	}
	return false
}

// CompletionRecord is written when an operator finishes serving a ticket.
// It outlives the ticket.
type CompletionRecord struct {
	RecordID     string    `json:"record_id"`
	TicketID     string    `json:"ticket_id,omitempty"`
	TicketNumber string    `json:"ticket_number"`
	Counter      string    `json:"counter"`
	CounterLabel string    `json:"counter_label"`
	CustomerName string    `json:"customer_name"`
	Category     string    `json:"category"`
	Note         string    `json:"note,omitempty"`
	CompletedAt  time.Time `json:"completed_at"`
}

// Report is a completion record moved to long-term storage.
type Report struct {
	CompletionRecord
	ArchivedAt time.Time `json:"archived_at"`
}

const (
	FieldCustomerName = "customer_name"
	FieldCategory     = "category"
	FieldCompletedAt  = "completed_at"
)

type completionRecord struct {
	TicketID     string     `json:"ticket_id,omitempty"`
	Number       string     `json:"number"`
	Counter      string     `json:"counter"`
	CounterLabel string     `json:"counter_label"`
	CustomerName string     `json:"customer_name"`
	Category     string     `json:"category"`
	Note         string     `json:"note,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Record returns the stored form of a completion record. CompletedAt is
// left to the store's creation timestamp.
func (c CompletionRecord) Record() any {
	return completionRecord{
		TicketID:     c.TicketID,
		Number:       c.TicketNumber,
		Counter:      c.Counter,
		CounterLabel: c.CounterLabel,
		CustomerName: c.CustomerName,
		Category:     c.Category,
		Note:         c.Note,
	}
}

// ReportRecord returns the stored form of an archived record, which keeps
// the original completion time explicitly.
func (c CompletionRecord) ReportRecord() any {
	completedAt := c.CompletedAt
	rec := c.Record().(completionRecord)
	rec.CompletedAt = &completedAt
	return rec
}

func decodeCompletion(doc store.Document) (CompletionRecord, error) {
	var rec completionRecord
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return CompletionRecord{}, fmt.Errorf("%w: completion %s: %v", ErrInvalidRecord, doc.ID, err)
	}
	if rec.Number == "" || rec.Counter == "" {
		return CompletionRecord{}, fmt.Errorf("%w: completion %s lacks number or counter", ErrInvalidRecord, doc.ID)
	}
	if strings.TrimSpace(rec.CustomerName) == "" {
		return CompletionRecord{}, fmt.Errorf("%w: completion %s lacks customer name", ErrInvalidRecord, doc.ID)
	}
	completedAt := doc.CreatedAt
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}
	return CompletionRecord{
		RecordID:     doc.ID,
		TicketID:     rec.TicketID,
		TicketNumber: rec.Number,
		Counter:      rec.Counter,
		CounterLabel: rec.CounterLabel,
		CustomerName: rec.CustomerName,
		Category:     rec.Category,
		Note:         rec.Note,
		CompletedAt:  completedAt,
	}, nil
}

func DecodeCompletions(docs []store.Document) ([]CompletionRecord, error) {
	records := make([]CompletionRecord, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeCompletion(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func DecodeReports(docs []store.Document) ([]Report, error) {
	reports := make([]Report, 0, len(docs))
	for _, doc := range docs {
		rec, err := decodeCompletion(doc)
		if err != nil {
			return nil, err
		}
		reports = append(reports, Report{CompletionRecord: rec, ArchivedAt: doc.CreatedAt})
	}
	return reports, nil
}
