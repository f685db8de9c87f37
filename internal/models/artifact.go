package models

import (
	"fmt"
	"strconv"
	"time"
)

// TicketNumberPad is the minimum width of the numeric part of a ticket number.
const TicketNumberPad = 3

func FormatTicketNumber(counterCode string, seq int64) string {
	return fmt.Sprintf("%s%0*d", counterCode, TicketNumberPad, seq)
}

// ParseTicketNumber returns the trailing decimal digits of number, or 0 if
// there are none.
func ParseTicketNumber(number string) int64 {
	end := len(number)
	start := end
	for start > 0 && number[start-1] >= '0' && number[start-1] <= '9' {
		start--
	}
	if start == end {
		return 0
	}
	value, err := strconv.ParseInt(number[start:end], 10, 64)
	if err != nil {
		return 0
	}
	return value
}

// TicketArtifact is what gets printed for a customer.
type TicketArtifact struct {
	TicketID     string
	TicketNumber string
	CounterLabel string
	StatusURL    string
	IssuedAt     time.Time
}
