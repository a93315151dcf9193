package fares

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "farebot/pkg/logx"
)

const sampleFares = `{
  "fares": [
    {"outbound": {
      "departureAirport": {"iataCode": "KRK", "name": "Krakow", "countryName": "Poland"},
      "arrivalAirport": {"iataCode": "DUB", "name": "Dublin", "countryName": "Ireland"},
      "departureDate": "2024-02-01T06:00:00",
      "price": {"value": 19.99, "currencyCode": "USD"},
      "flightNumber": "FR1903"
    }},
    {"outbound": {
      "departureAirport": {"iataCode": "KRK", "name": "Krakow", "countryName": "Poland"},
      "arrivalAirport": {"iataCode": "STN", "name": "London Stansted", "countryName": "United Kingdom"},
      "departureDate": "2024-02-03T21:15:00",
      "price": {"value": 24.5, "currencyCode": "USD"},
      "flightNumber": "FR2441"
    }}
  ],
  "nextPage": null,
  "size": 2
}`

func TestRyanairQuery(t *testing.T) {
	t.Parallel()
	warsaw, err := time.LoadLocation("Europe/Warsaw")
	if err != nil {
		t.Fatal(err)
	}

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/farfnd/v4/oneWayFares" {
			http.NotFound(w, r)
			return
		}
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleFares))
	}))
	defer srv.Close()

	c := NewRyanairClient(RyanairConfig{
		BaseURL:  srv.URL + "/",
		Currency: "usd",
		Location: func(code string) *time.Location {
			if code == "KRK" {
				return warsaw
			}
			return nil
		},
	}, logx.Nop())

	from := time.Date(2024, 1, 31, 12, 0, 0, 0, warsaw)
	to := time.Date(2024, 7, 31, 12, 0, 0, 0, warsaw)
	ls, err := c.Query(context.Background(), "krk", from, to)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	wantQuery := map[string]string{
		"departureAirportIataCode":  "KRK",
		"outboundDepartureDateFrom": "2024-01-31",
		"outboundDepartureDateTo":   "2024-07-31",
		"outboundDepartureTimeFrom": "00:00",
		"outboundDepartureTimeTo":   "23:59",
		"currency":                  "USD",
	}
	for k, v := range wantQuery {
		if gotQuery[k] != v {
			t.Fatalf("query %s = %q, want %q", k, gotQuery[k], v)
		}
	}

	if len(ls) != 2 {
		t.Fatalf("listings = %d, want 2", len(ls))
	}
	first := ls[0]
	if first.Origin != "Krakow, Poland" || first.Destination != "Dublin, Ireland" {
		t.Fatalf("names = %q -> %q", first.Origin, first.Destination)
	}
	if first.Price != (Price{Value: 19.99, Currency: "USD"}) {
		t.Fatalf("price = %+v", first.Price)
	}
	if first.Departure.Location() != warsaw || first.Departure.Hour() != 6 {
		t.Fatalf("departure = %v", first.Departure)
	}
	if ls[1].DestinationCode != "STN" || ls[1].FlightNumber != "FR2441" {
		t.Fatalf("second listing = %+v", ls[1])
	}
}

func TestRyanairQueryErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "status", handler: func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream down", http.StatusBadGateway)
		}},
		{name: "body", handler: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"fares": [`))
		}},
		{name: "departure", handler: func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"fares":[{"outbound":{"departureDate":"tomorrow"}}]}`))
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c := NewRyanairClient(RyanairConfig{BaseURL: srv.URL}, logx.Nop())
			_, err := c.Query(context.Background(), "KRK", time.Now(), time.Now())
			if !errors.Is(err, ErrQueryFailed) {
				t.Fatalf("err = %v, want ErrQueryFailed", err)
			}
		})
	}
}

func TestRyanairQueryHonorsContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewRyanairClient(RyanairConfig{BaseURL: srv.URL}, logx.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Query(ctx, "KRK", time.Now(), time.Now())
	if !errors.Is(err, ErrQueryFailed) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}
