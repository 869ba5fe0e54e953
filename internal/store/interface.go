package store

import "github.com/weiawesome/peace-chat/internal/domain"

// Query selects the messages visible to Viewer.
type Query struct {
	Viewer string
	// Counterpart narrows the result to the 1:1 conversation with Viewer.
	Counterpart string
	// ClearedBefore is Viewer's clear watermark; messages at or before it are hidden.
	ClearedBefore int64
}

// MessageStore is a bounded, append-only message log.
type MessageStore interface {
	// Append stores msg unless a message with the same id is already held,
	// in which case the held message is returned with inserted=false.
	Append(msg domain.Message) (stored domain.Message, inserted bool)

	// Get returns the held message with the given id.
	Get(id string) (domain.Message, bool)

	// Query returns the messages visible for q in insertion order.
	Query(q Query) []domain.Message

	// Len returns the number of held messages.
	Len() int

	// Capacity returns the retention bound.
	Capacity() int
}
