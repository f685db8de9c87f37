package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"qms/branch-queue/internal/display"
)

// Subscription selects the event types a client receives. An empty
// subscription receives everything.
type Subscription struct {
	Types map[string]bool
}

type Client struct {
	ID           string
	Send         chan []byte
	Subscription Subscription
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

type SubscribeMessage struct {
	Action string   `json:"action"`
	Types  []string `json:"types"`
}

func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, sub Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.Subscription = sub
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast never blocks: a client whose buffer is full misses the message.
func (h *Hub) Broadcast(payload []byte, eventType string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !match(client.Subscription, eventType) {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("drop display message", "client", client.ID, "type", eventType)
		}
	}
}

// Publish makes the hub a display.Publisher.
func (h *Hub) Publish(event display.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode display event", "error", err)
		return
	}
	h.Broadcast(payload, event.Type)
}

func match(sub Subscription, eventType string) bool {
	if len(sub.Types) == 0 {
		return true
	}
	return sub.Types[eventType]
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}

func (m SubscribeMessage) Subscription() Subscription {
	if m.Action == "unsubscribe" || len(m.Types) == 0 {
		return Subscription{}
	}
	types := make(map[string]bool, len(m.Types))
	for _, t := range m.Types {
		types[t] = true
	}
	return Subscription{Types: types}
}
