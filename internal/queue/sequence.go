package queue

import (
	"context"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

// Sequencer returns the next ticket sequence number of a counter.
type Sequencer interface {
	Next(ctx context.Context, counterCode string) (int64, error)
}

// Resetter is implemented by sequencers that keep their own state.
type Resetter interface {
	Reset(ctx context.Context) error
}

// LatestSequencer derives the next number from the newest ticket of the
// counter. The read and the following insert are not atomic: two issuers
// racing on one counter can both get the same number, and closing the
// newest ticket makes its number available again.
type LatestSequencer struct {
	store store.DocStore
}

func NewLatestSequencer(st store.DocStore) *LatestSequencer {
	return &LatestSequencer{store: st}
}

func (l *LatestSequencer) Next(ctx context.Context, counterCode string) (int64, error) {
	docs, err := l.store.QueryOnce(ctx, store.Tickets, store.Query{
		Filters: []store.Filter{store.Where(models.FieldCounter, store.OpEq, counterCode)},
		OrderBy: []store.Order{{Field: store.FieldCreatedAt, Desc: true}},
		Limit:   1,
	})
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 1, nil
	}
	latest, err := models.DecodeTicket(docs[0])
	if err != nil {
		return 0, err
	}
	return models.ParseTicketNumber(latest.TicketNumber) + 1, nil
}

// Seeder is implemented by sequencers that can be aligned with tickets
// numbered before they took over.
type Seeder interface {
	Seed(ctx context.Context, latest map[string]int64) error
}

// SeedFromTickets aligns seeder with the newest stored ticket of every
// counter.
func SeedFromTickets(ctx context.Context, st store.DocStore, seeder Seeder) error {
	latest := NewLatestSequencer(st)
	values := make(map[string]int64, len(models.Counters))
	for _, counter := range models.Counters {
		next, err := latest.Next(ctx, counter.Code)
		if err != nil {
			return err
		}
		if next > 1 {
			values[counter.Code] = next - 1
		}
	}
	if len(values) == 0 {
		return nil
	}
	return seeder.Seed(ctx, values)
}
