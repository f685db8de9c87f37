package display

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"qms/branch-queue/internal/locale"
	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"
)

var ErrSubscriptionClosed = errors.New("display subscription closed")

const (
	EventBoard        = "board"
	EventAnnouncement = "announcement"
)

type Event struct {
	Type         string        `json:"type"`
	Board        *Board        `json:"board,omitempty"`
	Announcement *Announcement `json:"announcement,omitempty"`
}

type Announcement struct {
	Text         string    `json:"text"`
	Locale       string    `json:"locale"`
	TicketNumber string    `json:"ticket_number"`
	CounterLabel string    `json:"counter_label"`
	CalledAt     time.Time `json:"called_at"`
	Recall       bool      `json:"recall"`
}

type Slot struct {
	Key          string     `json:"key"`
	Title        string     `json:"title"`
	TicketNumber string     `json:"ticket_number"`
	CounterLabel string     `json:"counter_label,omitempty"`
	CalledAt     *time.Time `json:"called_at,omitempty"`
}

type Board struct {
	Settings   models.Settings           `json:"settings"`
	Slots      []Slot                    `json:"slots"`
	NowServing *models.ServingProjection `json:"now_serving,omitempty"`
}

type SlotConfig struct {
	Key   string
	Title string
}

func DefaultSlots() []SlotConfig {
	return []SlotConfig{
		{Key: "admin_teller_1", Title: "Teller 1"},
		{Key: "admin_teller_2", Title: "Teller 2"},
		{Key: "admin_vip", Title: "VIP"},
		{Key: "admin_customer_service", Title: "Customer Service"},
	}
}

type Publisher interface {
	Publish(event Event)
}

type Options struct {
	Locale string
	Slots  []SlotConfig
	Logger *slog.Logger
}

// Projector mirrors serving projections and outlet settings for the public
// display. It only reads from the store.
type Projector struct {
	store     store.DocStore
	publisher Publisher
	locale    string
	slots     []SlotConfig
	logger    *slog.Logger

	mu          sync.RWMutex
	settings    models.Settings
	projections map[string]models.ServingProjection
	shared      *models.ServingProjection
	primed      bool
}

func NewProjector(st store.DocStore, publisher Publisher, options Options) *Projector {
	slots := options.Slots
	if len(slots) == 0 {
		slots = DefaultSlots()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lang := options.Locale
	if lang == "" {
		lang = "en"
	}
	return &Projector{
		store:       st,
		publisher:   publisher,
		locale:      lang,
		slots:       slots,
		logger:      logger,
		settings:    models.DefaultSettings(),
		projections: make(map[string]models.ServingProjection),
	}
}

// Run follows the store until ctx is cancelled. The first projection
// snapshot only establishes the baseline; announcements start with the
// first change after it.
func (p *Projector) Run(ctx context.Context) error {
	projections, err := p.store.Subscribe(ctx, store.ServingProjections, store.Query{})
	if err != nil {
		return err
	}
	defer projections.Close()

	settings, err := p.store.Subscribe(ctx, store.Settings, store.Query{
		Filters: []store.Filter{store.Where(store.FieldID, store.OpEq, models.SettingsKey)},
	})
	if err != nil {
		return err
	}
	defer settings.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case docs, ok := <-projections.Snapshots():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			p.applyProjections(docs)
		case docs, ok := <-settings.Snapshots():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrSubscriptionClosed
			}
			p.applySettings(docs)
		}
	}
}

func (p *Projector) applyProjections(docs []store.Document) {
	next := make(map[string]models.ServingProjection, len(docs))
	var shared *models.ServingProjection
	for _, doc := range docs {
		projection, err := models.DecodeProjection(doc)
		if err != nil {
			p.logger.Warn("skip invalid projection", "key", doc.ID, "error", err)
			continue
		}
		if doc.ID == models.NowServingKey {
			shared = &projection
			continue
		}
		next[doc.ID] = projection
	}

	p.mu.Lock()
	changed := shared != nil && (p.shared == nil ||
		p.shared.TicketNumber != shared.TicketNumber ||
		!p.shared.CalledAt.Equal(shared.CalledAt) ||
		p.shared.CounterLabel != shared.CounterLabel)
	announce := p.primed && changed
	p.projections = next
	p.shared = shared
	p.primed = true
	board := p.boardLocked()
	p.mu.Unlock()

	p.publish(Event{Type: EventBoard, Board: &board})
	if announce {
		a := p.announcement(*shared, false)
		p.publish(Event{Type: EventAnnouncement, Announcement: &a})
	}
}

func (p *Projector) applySettings(docs []store.Document) {
	settings := models.DefaultSettings()
	if len(docs) > 0 {
		decoded, err := models.DecodeSettings(docs[0])
		if err != nil {
			p.logger.Warn("invalid settings record, using defaults", "error", err)
		} else {
			settings = decoded.WithDefaults()
		}
	}

	p.mu.Lock()
	p.settings = settings
	board := p.boardLocked()
	p.mu.Unlock()
	p.publish(Event{Type: EventBoard, Board: &board})
}

// Recalled announces projection again. It satisfies queue.Notifier.
func (p *Projector) Recalled(_ context.Context, projection models.ServingProjection) {
	a := p.announcement(projection, true)
	p.publish(Event{Type: EventAnnouncement, Announcement: &a})
}

func (p *Projector) Board() Board {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.boardLocked()
}

func (p *Projector) AnnouncementText(projection models.ServingProjection) string {
	return locale.NewPrinter(p.locale).Sprintf(locale.Announcement, projection.TicketNumber, projection.CounterLabel)
}

func (p *Projector) announcement(projection models.ServingProjection, recall bool) Announcement {
	return Announcement{
		Text:         p.AnnouncementText(projection),
		Locale:       p.locale,
		TicketNumber: projection.TicketNumber,
		CounterLabel: projection.CounterLabel,
		CalledAt:     projection.CalledAt,
		Recall:       recall,
	}
}

func (p *Projector) boardLocked() Board {
	board := Board{Settings: p.settings}
	seen := make(map[string]bool, len(p.slots))
	for _, cfg := range p.slots {
		seen[cfg.Key] = true
		board.Slots = append(board.Slots, slotFor(cfg.Key, cfg.Title, p.projections))
	}
	var extra []string
	for key := range p.projections {
		if !seen[key] {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		board.Slots = append(board.Slots, slotFor(key, p.projections[key].CounterLabel, p.projections))
	}
	if p.shared != nil {
		shared := *p.shared
		board.NowServing = &shared
	}
	return board
}

func slotFor(key, title string, projections map[string]models.ServingProjection) Slot {
	slot := Slot{Key: key, Title: title, TicketNumber: models.EmptyNumber}
	if projection, ok := projections[key]; ok {
		calledAt := projection.CalledAt
		slot.TicketNumber = projection.TicketNumber
		slot.CounterLabel = projection.CounterLabel
		slot.CalledAt = &calledAt
	}
	return slot
}

func (p *Projector) publish(event Event) {
	if p.publisher != nil {
		p.publisher.Publish(event)
	}
}
