package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sequencer hands out ticket numbers from the ticket_sequences table. The
// upsert is a single statement, so concurrent callers never share a number.
type Sequencer struct {
	pool *pgxpool.Pool
}

func NewSequencer(pool *pgxpool.Pool) *Sequencer {
	return &Sequencer{pool: pool}
}

func (s *Sequencer) Next(ctx context.Context, counter string) (int64, error) {
	var next int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO ticket_sequences (counter, next_number)
		VALUES ($1, 1)
		ON CONFLICT (counter)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1, updated_at = now()
		RETURNING next_number
	`, counter)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Sequencer) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM ticket_sequences`)
	return err
}

// Seed raises each counter's sequence to at least the given value.
func (s *Sequencer) Seed(ctx context.Context, latest map[string]int64) error {
	for counter, n := range latest {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO ticket_sequences (counter, next_number)
			VALUES ($1, $2)
			ON CONFLICT (counter)
			DO UPDATE SET next_number = GREATEST(ticket_sequences.next_number, EXCLUDED.next_number), updated_at = now()
		`, counter, n)
		if err != nil {
			return err
		}
	}
	return nil
}
