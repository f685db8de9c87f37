package store

import (
	"context"
	"encoding/json"
	"time"
)

type Collection string

const (
	Tickets            Collection = "tickets"
	ServingProjections Collection = "servingProjections"
	CompletionRecords  Collection = "completionRecords"
	Reports            Collection = "reports"
	Settings           Collection = "settings"
)

// Reserved field names. Every other field name addresses a key of the
// document's JSON body.
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
)

type Op string

const (
	OpEq  Op = "=="
	OpNe  Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

type Query struct {
	Filters []Filter
	OrderBy []Order
	Limit   int
}

func Where(field string, op Op, value any) Filter {
	return Filter{Field: field, Op: op, Value: value}
}

// Document is a stored record. CreatedAt is stamped by the store on insert
// and never changes afterwards.
type Document struct {
	ID        string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

type DocStore interface {
	Insert(ctx context.Context, coll Collection, data any) (Document, error)
	Set(ctx context.Context, coll Collection, id string, data any) error
	Update(ctx context.Context, coll Collection, id string, fields map[string]any) error
	Delete(ctx context.Context, coll Collection, id string) error
	Get(ctx context.Context, coll Collection, id string) (Document, error)
	QueryOnce(ctx context.Context, coll Collection, q Query) ([]Document, error)
	Subscribe(ctx context.Context, coll Collection, q Query) (*Subscription, error)
}

func (q Query) Validate() error {
	for _, f := range q.Filters {
		if f.Field == "" {
			return ErrInvalidQuery
		}
		switch f.Op {
		case OpEq, OpNe, OpLt, OpLte, OpGt, OpGte:
		default:
			return ErrInvalidQuery
		}
		if f.Field == FieldCreatedAt {
			if _, ok := f.Value.(time.Time); !ok {
				return ErrInvalidQuery
			}
		}
	}
	for _, o := range q.OrderBy {
		if o.Field == "" {
			return ErrInvalidQuery
		}
	}
	if q.Limit < 0 {
		return ErrInvalidQuery
	}
	return nil
}

func Marshal(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}
