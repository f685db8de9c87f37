package queue

import (
	"context"
	"errors"
	"fmt"

	"qms/branch-queue/internal/metrics"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

type Archiver struct {
	store store.DocStore
}

func NewArchiver(st store.DocStore) *Archiver {
	return &Archiver{store: st}
}

// Archive moves every completion record into reports, copying first and
// deleting after. A failure stops the move; records already copied and
// deleted stay moved.
func (a *Archiver) Archive(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "queue.archive")
	defer span.End()

	docs, err := a.store.QueryOnce(ctx, store.CompletionRecords, store.Query{
		OrderBy: []store.Order{{Field: store.FieldCreatedAt}},
	})
	if err != nil {
		return 0, err
	}
	records, err := models.DecodeCompletions(docs)
	if err != nil {
		return 0, err
	}

	moved := 0
	for _, record := range records {
		if _, err := a.store.Insert(ctx, store.Reports, record.ReportRecord()); err != nil {
			metrics.RecordsArchived(moved)
			return moved, fmt.Errorf("copy record %s: %w", record.RecordID, err)
		}
		if err := a.store.Delete(ctx, store.CompletionRecords, record.RecordID); err != nil && !errors.Is(err, store.ErrNotFound) {
			metrics.RecordsArchived(moved)
			return moved, fmt.Errorf("delete record %s: %w", record.RecordID, err)
		}
		moved++
	}
	metrics.RecordsArchived(moved)
	return moved, nil
}
