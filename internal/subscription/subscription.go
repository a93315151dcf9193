// Package subscription owns per-user subscription state.
package subscription

import (
	"context"
	"errors"
	"time"

	"farebot/internal/storage"
)

var (
	ErrNotInitialized     = errors.New("subscription not initialized")
	ErrAlreadySubscribed  = errors.New("already subscribed to origin")
	ErrNotSubscribed      = errors.New("not subscribed to origin")
	ErrInvalidAirportCode = errors.New("invalid airport code")
	// ErrImmediateDispatch is returned by AddOrigin when the origin was added
	// but the follow-up dispatch failed.
	ErrImmediateDispatch = errors.New("immediate dispatch failed")
)

// Subscription is one user's state. Values handed out by the registry are copies.
type Subscription struct {
	UserID int64
	// Origins are uppercase, unique, in insertion order.
	Origins []string
	// Destinations is reserved for future filtering and always empty.
	Destinations []string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Eligible reports whether the scheduled cycle should include s.
func (s Subscription) Eligible() bool { return s.Active && len(s.Origins) > 0 }

func (s Subscription) Has(code string) bool {
	for _, c := range s.Origins {
		if c == code {
			return true
		}
	}
	return false
}

func fromRecord(r storage.Record) Subscription {
	r = r.Clone()
	if r.Origins == nil {
		r.Origins = []string{}
	}
	return Subscription{
		UserID:       r.UserID,
		Origins:      r.Origins,
		Destinations: r.Destinations,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func (s Subscription) record() storage.Record {
	return storage.Record{
		UserID:       s.UserID,
		Origins:      s.Origins,
		Destinations: s.Destinations,
		Active:       s.Active,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}.Clone()
}

// Validator reports whether a normalized code is in the reference set.
type Validator interface {
	Valid(code string) bool
}

// Trigger runs the one-off dispatch for a newly added origin.
type Trigger interface {
	DispatchOrigin(ctx context.Context, userID int64, code string) error
}

type TriggerFunc func(ctx context.Context, userID int64, code string) error

func (f TriggerFunc) DispatchOrigin(ctx context.Context, userID int64, code string) error {
	return f(ctx, userID, code)
}
