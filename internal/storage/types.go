package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// If Driver is empty, "memory" is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is the persisted form of one user's subscription.
// Origins keep insertion order.
type Record struct {
	UserID       int64     `json:"user_id"`
	Origins      []string  `json:"origins"`
	Destinations []string  `json:"destinations,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.Origins = append([]string(nil), r.Origins...)
	if r.Destinations != nil {
		r.Destinations = append([]string(nil), r.Destinations...)
	}
	return r
}

// Store persists subscription records. Implementations are safe for concurrent use
// and never hand out references to their internal state.
type Store interface {
	Get(ctx context.Context, userID int64) (rec Record, ok bool, err error)
	Put(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}
