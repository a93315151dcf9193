// Package fares fetches and renders fare listings.
package fares

import (
	"context"
	"errors"
	"time"
)

// ErrQueryFailed wraps every failure of a Source: transport errors,
// non-2xx responses and undecodable bodies.
var ErrQueryFailed = errors.New("fare query failed")

// Price is a display amount. Value is rendered with two decimals by
// FormatPrice and never used in arithmetic.
type Price struct {
	Value    float64
	Currency string
}

// Listing is one priced one-way flight. Listings are produced fresh on
// every query and never cached.
type Listing struct {
	Price           Price
	Origin          string // "Krakow, Poland"
	OriginCode      string
	Destination     string
	DestinationCode string
	FlightNumber    string
	// Departure carries the origin airport's location.
	Departure time.Time
}

// Source returns listings departing origin on dates in [from, to].
type Source interface {
	Query(ctx context.Context, origin string, from, to time.Time) ([]Listing, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, origin string, from, to time.Time) ([]Listing, error)

func (f SourceFunc) Query(ctx context.Context, origin string, from, to time.Time) ([]Listing, error) {
	return f(ctx, origin, from, to)
}
