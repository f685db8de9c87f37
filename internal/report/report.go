package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

var (
	ErrInvalidSort   = errors.New("invalid sort")
	ErrInvalidPeriod = errors.New("invalid period")
)

const (
	SortCompletedAt  = "completed_at"
	SortNumber       = "number"
	SortCustomerName = "customer_name"
	SortCategory     = "category"
)

type Sort struct {
	Key  string
	Desc bool
}

// ParseSort accepts an empty key (newest first) or one of the Sort* keys
// with direction "asc" or "desc".
func ParseSort(key, direction string) (Sort, error) {
	key = strings.TrimSpace(key)
	direction = strings.ToLower(strings.TrimSpace(direction))
	if key == "" {
		key = SortCompletedAt
		if direction == "" {
			direction = "desc"
		}
	}
	switch key {
	case SortCompletedAt, SortNumber, SortCustomerName, SortCategory:
	default:
		return Sort{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSort, key)
	}
	switch direction {
	case "", "asc":
		return Sort{Key: key}, nil
	case "desc":
		return Sort{Key: key, Desc: true}, nil
	}
	return Sort{}, fmt.Errorf("%w: unknown direction %q", ErrInvalidSort, direction)
}

type Dashboard struct {
	Waiting        int            `json:"waiting"`
	Finished       int            `json:"finished"`
	WaitingCounter map[string]int `json:"waiting_by_counter"`
	Month          string         `json:"month"`
	Categories     map[string]int `json:"categories"`
}

type HistoryFilter struct {
	CounterPrefix string
	Sort          Sort
}

// ReportFilter selects archived reports by completion month. Zero values
// mean any month or any year.
type ReportFilter struct {
	Month int
	Year  int
	Sort  Sort
}

type Options struct {
	Now      func() time.Time
	Location *time.Location
}

type Service struct {
	store    store.DocStore
	now      func() time.Time
	location *time.Location
}

func NewService(st store.DocStore, options Options) *Service {
	now := options.Now
	if now == nil {
		now = time.Now
	}
	loc := options.Location
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, now: now, location: loc}
}

func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	docs, err := s.store.QueryOnce(ctx, store.Tickets, store.Query{})
	if err != nil {
		return Dashboard{}, err
	}
	tickets, err := models.DecodeTickets(docs)
	if err != nil {
		return Dashboard{}, err
	}

	dash := Dashboard{
		WaitingCounter: make(map[string]int, len(models.Counters)),
		Categories:     make(map[string]int, len(models.Categories)),
	}
	for _, counter := range models.Counters {
		dash.WaitingCounter[counter.Code] = 0
	}
	for _, ticket := range tickets {
		switch ticket.Status {
		case models.StatusWaiting:
			dash.Waiting++
			dash.WaitingCounter[ticket.Counter]++
		case models.StatusFinished:
			dash.Finished++
		}
	}

	now := s.now().In(s.location)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.location)
	dash.Month = monthStart.Format("2006-01")
	for _, category := range models.Categories {
		dash.Categories[category] = 0
	}
	docs, err = s.store.QueryOnce(ctx, store.CompletionRecords, store.Query{
		Filters: []store.Filter{store.Where(store.FieldCreatedAt, store.OpGte, monthStart)},
	})
	if err != nil {
		return Dashboard{}, err
	}
	records, err := models.DecodeCompletions(docs)
	if err != nil {
		return Dashboard{}, err
	}
	for _, record := range records {
		if _, ok := dash.Categories[record.Category]; ok {
			dash.Categories[record.Category]++
		}
	}
	return dash, nil
}

func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]models.CompletionRecord, error) {
	docs, err := s.store.QueryOnce(ctx, store.CompletionRecords, store.Query{})
	if err != nil {
		return nil, err
	}
	records, err := models.DecodeCompletions(docs)
	if err != nil {
		return nil, err
	}
	prefix := strings.ToUpper(strings.TrimSpace(filter.CounterPrefix))
	out := records[:0]
	for _, record := range records {
		if prefix == "" || strings.HasPrefix(record.TicketNumber, prefix) {
			out = append(out, record)
		}
	}
	sortRecords(out, filter.Sort, func(r models.CompletionRecord) models.CompletionRecord { return r })
	return out, nil
}

func (s *Service) Reports(ctx context.Context, filter ReportFilter) ([]models.Report, error) {
	if filter.Month < 0 || filter.Month > 12 || filter.Year < 0 {
		return nil, fmt.Errorf("%w: month %d year %d", ErrInvalidPeriod, filter.Month, filter.Year)
	}
	docs, err := s.store.QueryOnce(ctx, store.Reports, store.Query{})
	if err != nil {
		return nil, err
	}
	reports, err := models.DecodeReports(docs)
	if err != nil {
		return nil, err
	}
	out := reports[:0]
	for _, r := range reports {
		completed := r.CompletedAt.In(s.location)
		if filter.Month != 0 && int(completed.Month()) != filter.Month {
			continue
		}
		if filter.Year != 0 && completed.Year() != filter.Year {
			continue
		}
		out = append(out, r)
	}
	sortRecords(out, filter.Sort, func(r models.Report) models.CompletionRecord { return r.CompletionRecord })
	return out, nil
}

func sortRecords[T any](items []T, by Sort, record func(T) models.CompletionRecord) {
	if by.Key == "" {
		by = Sort{Key: SortCompletedAt, Desc: true}
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, b := record(items[i]), record(items[j])
		var c int
		switch by.Key {
		case SortNumber:
			c = strings.Compare(a.TicketNumber, b.TicketNumber)
		case SortCustomerName:
			c = strings.Compare(strings.ToLower(a.CustomerName), strings.ToLower(b.CustomerName))
		case SortCategory:
			c = strings.Compare(a.Category, b.Category)
		default:
			c = a.CompletedAt.Compare(b.CompletedAt)
		}
		if by.Desc {
			return c > 0
		}
		return c < 0
	})
}
