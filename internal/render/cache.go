package render

import (
	"context"
	"sync"

	"qms/branch-queue/internal/models"
)

const defaultCacheSize = 256

// Cache renders each issued ticket once and keeps the most recent PDFs so
// the print endpoint returns the artifact produced at issue time. When a
// spool is attached it receives the same bytes.
type Cache struct {
	renderer *TicketRenderer
	spool    *Spool
	size     int

	mu    sync.Mutex
	order []string
	pdfs  map[string][]byte
}

func NewCache(renderer *TicketRenderer, size int, spool *Spool) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Cache{
		renderer: renderer,
		spool:    spool,
		size:     size,
		pdfs:     make(map[string][]byte),
	}
}

func (c *Cache) RenderTicket(ctx context.Context, artifact models.TicketArtifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := c.renderer.PDF(artifact)
	if err != nil {
		return err
	}
	c.put(artifact.TicketID, data)
	if c.spool != nil {
		return c.spool.write(artifact.TicketNumber, data)
	}
	return nil
}

// PDF returns the cached artifact of a ticket.
func (c *Cache) PDF(ticketID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.pdfs[ticketID]
	return data, ok
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pdfs)
}

func (c *Cache) put(ticketID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pdfs[ticketID]; !ok {
		c.order = append(c.order, ticketID)
	}
	c.pdfs[ticketID] = data
	for len(c.order) > c.size {
		delete(c.pdfs, c.order[0])
		c.order = c.order[1:]
	}
}
