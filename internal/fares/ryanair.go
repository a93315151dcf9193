package fares

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "farebot/pkg/logx"
)

const (
	oneWayFaresPath = "/farfnd/v4/oneWayFares"
	dateLayout      = "2006-01-02"
	localLayout     = "2006-01-02T15:04:05"
	maxBodyBytes    = 8 << 20
)

// RyanairConfig configures RyanairClient.
type RyanairConfig struct {
	BaseURL  string
	Currency string
	Market   string
	Timeout  time.Duration

	// Location maps an airport code to its timezone. Departure times in the
	// response are naive local times of the departure airport.
	Location func(code string) *time.Location
	// Fallback is used when Location has no answer. Defaults to UTC.
	Fallback *time.Location

	HTTPClient *http.Client
}

// RyanairClient queries the public fare finder for the cheapest one-way
// fare per destination and day.
type RyanairClient struct {
	base     string
	currency string
	market   string
	locate   func(string) *time.Location
	fallback *time.Location
	hc       *http.Client
	log      logx.Logger
}

func NewRyanairClient(cfg RyanairConfig, log logx.Logger) *RyanairClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	fb := cfg.Fallback
	if fb == nil {
		fb = time.UTC
	}
	return &RyanairClient{
		base:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		currency: strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		market:   strings.TrimSpace(cfg.Market),
		locate:   cfg.Location,
		fallback: fb,
		hc:       hc,
		log:      log.With(logx.String("comp", "fares")),
	}
}

type oneWayFaresResponse struct {
	Fares []struct {
		Outbound struct {
			DepartureAirport airportJSON `json:"departureAirport"`
			ArrivalAirport   airportJSON `json:"arrivalAirport"`
			DepartureDate    string      `json:"departureDate"`
			Price            struct {
				Value        float64 `json:"value"`
				CurrencyCode string  `json:"currencyCode"`
			} `json:"price"`
			FlightNumber string `json:"flightNumber"`
		} `json:"outbound"`
	} `json:"fares"`
}

type airportJSON struct {
	IataCode    string `json:"iataCode"`
	Name        string `json:"name"`
	CountryName string `json:"countryName"`
}

func (a airportJSON) label() string {
	if a.CountryName == "" {
		return a.Name
	}
	return a.Name + ", " + a.CountryName
}

func (c *RyanairClient) Query(ctx context.Context, origin string, from, to time.Time) ([]Listing, error) {
	origin = strings.ToUpper(strings.TrimSpace(origin))
	q := url.Values{}
	q.Set("departureAirportIataCode", origin)
	q.Set("outboundDepartureDateFrom", from.Format(dateLayout))
	q.Set("outboundDepartureDateTo", to.Format(dateLayout))
	q.Set("outboundDepartureTimeFrom", "00:00")
	q.Set("outboundDepartureTimeTo", "23:59")
	if c.currency != "" {
		q.Set("currency", c.currency)
	}
	if c.market != "" {
		q.Set("market", c.market)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+oneWayFaresPath+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, origin, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, origin, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("%w: %s: status %d: %s", ErrQueryFailed, origin, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body oneWayFaresResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %s: decode: %w", ErrQueryFailed, origin, err)
	}

	loc := c.location(origin)
	out := make([]Listing, 0, len(body.Fares))
	for _, f := range body.Fares {
		ob := f.Outbound
		dep, err := time.ParseInLocation(localLayout, ob.DepartureDate, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: departure %q: %w", ErrQueryFailed, origin, ob.DepartureDate, err)
		}
		cur := ob.Price.CurrencyCode
		if cur == "" {
			cur = c.currency
		}
		out = append(out, Listing{
			Price:           Price{Value: ob.Price.Value, Currency: cur},
			Origin:          ob.DepartureAirport.label(),
			OriginCode:      ob.DepartureAirport.IataCode,
			Destination:     ob.ArrivalAirport.label(),
			DestinationCode: ob.ArrivalAirport.IataCode,
			FlightNumber:    ob.FlightNumber,
			Departure:       dep,
		})
	}

	c.log.Debug("fares fetched",
		logx.String("origin", origin),
		logx.Int("listings", len(out)),
		logx.Duration("took", time.Since(start)),
	)
	return out, nil
}

func (c *RyanairClient) location(code string) *time.Location {
	if c.locate != nil {
		if loc := c.locate(code); loc != nil {
			return loc
		}
	}
	return c.fallback
}
