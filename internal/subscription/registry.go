package subscription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"farebot/internal/airports"
	"farebot/internal/eventbus"
	"farebot/internal/storage"
	logx "farebot/pkg/logx"
)

// Registry implements the management commands over a storage.Store.
//
// Mutations for one user are serialized; different users proceed
// independently. Reads return copies, so a dispatch cycle always sees a
// consistent origin list per subscription.
type Registry struct {
	store storage.Store
	valid Validator
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time

	locks *keyedMutex

	mu      sync.RWMutex
	trigger Trigger
}

func NewRegistry(store storage.Store, valid Validator, log logx.Logger, bus eventbus.Bus) *Registry {
	if store == nil {
		store = storage.NewMemory()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store: store,
		valid: valid,
		log:   log.With(logx.String("comp", "subscription")),
		bus:   bus,
		now:   time.Now,
		locks: newKeyedMutex(),
	}
}

// SetTrigger installs the immediate dispatch run after a successful AddOrigin.
func (r *Registry) SetTrigger(t Trigger) {
	r.mu.Lock()
	r.trigger = t
	r.mu.Unlock()
}

// Initialize creates or resets the user's subscription: no origins, active.
func (r *Registry) Initialize(ctx context.Context, userID int64) error {
	unlock := r.locks.Lock(userID)
	defer unlock()

	now := r.now()
	sub := Subscription{UserID: userID, Origins: []string{}, Active: true, CreatedAt: now, UpdatedAt: now}
	if err := r.store.Put(ctx, sub.record()); err != nil {
		return fmt.Errorf("initialize %d: %w", userID, err)
	}
	r.publish(userID, "initialize", "")
	r.log.Debug("subscription initialized", logx.Int64("user_id", userID))
	return nil
}

// AddOrigin subscribes the user to code and then runs the immediate
// dispatch for that single origin, blocking until it completes.
//
// On a dispatch failure the origin stays subscribed and the returned error
// wraps ErrImmediateDispatch.
func (r *Registry) AddOrigin(ctx context.Context, userID int64, code string) error {
	code = airports.Normalize(code)
	if err := r.mutate(ctx, userID, func(sub *Subscription) error {
		if sub.Has(code) {
			return ErrAlreadySubscribed
		}
		if code == "" || r.valid == nil || !r.valid.Valid(code) {
			return ErrInvalidAirportCode
		}
		sub.Origins = append(sub.Origins, code)
		return nil
	}); err != nil {
		return err
	}
	r.publish(userID, "add", code)
	r.log.Info("origin subscribed", logx.Int64("user_id", userID), logx.String("origin", code))

	r.mu.RLock()
	t := r.trigger
	r.mu.RUnlock()
	if t == nil {
		return nil
	}
	if err := t.DispatchOrigin(ctx, userID, code); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrImmediateDispatch, code, err)
	}
	return nil
}

func (r *Registry) RemoveOrigin(ctx context.Context, userID int64, code string) error {
	code = airports.Normalize(code)
	if err := r.mutate(ctx, userID, func(sub *Subscription) error {
		for i, c := range sub.Origins {
			if c == code {
				sub.Origins = append(sub.Origins[:i:i], sub.Origins[i+1:]...)
				return nil
			}
		}
		return ErrNotSubscribed
	}); err != nil {
		return err
	}
	r.publish(userID, "remove", code)
	r.log.Info("origin unsubscribed", logx.Int64("user_id", userID), logx.String("origin", code))
	return nil
}

func (r *Registry) Pause(ctx context.Context, userID int64) error {
	return r.setActive(ctx, userID, false)
}

func (r *Registry) Resume(ctx context.Context, userID int64) error {
	return r.setActive(ctx, userID, true)
}

func (r *Registry) setActive(ctx context.Context, userID int64, active bool) error {
	if err := r.mutate(ctx, userID, func(sub *Subscription) error {
		sub.Active = active
		return nil
	}); err != nil {
		return err
	}
	op := "pause"
	if active {
		op = "resume"
	}
	r.publish(userID, op, "")
	return nil
}

// ListOrigins returns the user's origins in insertion order. An unknown
// user or an empty subscription yields an empty slice and no error.
func (r *Registry) ListOrigins(ctx context.Context, userID int64) ([]string, error) {
	sub, ok, err := r.Get(ctx, userID)
	if err != nil || !ok {
		return []string{}, err
	}
	return sub.Origins, nil
}

// Get returns a copy of the user's subscription.
func (r *Registry) Get(ctx context.Context, userID int64) (Subscription, bool, error) {
	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return Subscription{}, false, fmt.Errorf("get %d: %w", userID, err)
	}
	if !ok {
		return Subscription{}, false, nil
	}
	return fromRecord(rec), true, nil
}

// Snapshot returns copies of every subscription, ordered by user id.
func (r *Registry) Snapshot(ctx context.Context) ([]Subscription, error) {
	recs, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	out := make([]Subscription, 0, len(recs))
	for _, rec := range recs {
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

// mutate loads, edits and stores one subscription under the user's lock.
func (r *Registry) mutate(ctx context.Context, userID int64, fn func(sub *Subscription) error) error {
	unlock := r.locks.Lock(userID)
	defer unlock()

	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("load %d: %w", userID, err)
	}
	if !ok {
		return ErrNotInitialized
	}
	sub := fromRecord(rec)
	if err := fn(&sub); err != nil {
		return err
	}
	sub.UpdatedAt = r.now()
	if err := r.store.Put(ctx, sub.record()); err != nil {
		return fmt.Errorf("store %d: %w", userID, err)
	}
	return nil
}

func (r *Registry) publish(userID int64, op, code string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.Event{
		Type: eventbus.SubscriptionChanged,
		Data: eventbus.SubscriptionChange{UserID: userID, Op: op, Code: code},
	})
}
