// Package airports holds the reference set of airport codes a user may
// subscribe to.
package airports

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"
)

//go:embed airports.csv
var embedded []byte

type Airport struct {
	Code     string
	Name     string
	City     string
	Country  string
	Timezone string

	loc *time.Location
}

// Label renders "Name, Country", the form used in fare messages.
func (a Airport) Label() string {
	if a.Country == "" {
		return a.Name
	}
	return a.Name + ", " + a.Country
}

// Set is an immutable code -> Airport index. Safe for concurrent use.
type Set struct {
	byCode map[string]Airport
}

// Default returns the embedded set.
func Default() (*Set, error) {
	return Parse(bytes.NewReader(embedded))
}

// Load reads a CSV file, or returns the embedded set when path is empty.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("airports: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads "code,name,city,country,timezone" rows with a header line.
// Unknown timezones are rejected so that departures always have a location.
func Parse(r io.Reader) (*Set, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("airports: header: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(header[0]), "code") {
		return nil, fmt.Errorf("airports: unexpected header %q", strings.Join(header, ","))
	}

	s := &Set{byCode: map[string]Airport{}}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("airports: %w", err)
		}
		code := Normalize(rec[0])
		if len(code) != 3 {
			return nil, fmt.Errorf("airports: invalid code %q", rec[0])
		}
		loc, err := time.LoadLocation(strings.TrimSpace(rec[4]))
		if err != nil {
			return nil, fmt.Errorf("airports: %s: %w", code, err)
		}
		s.byCode[code] = Airport{
			Code:     code,
			Name:     strings.TrimSpace(rec[1]),
			City:     strings.TrimSpace(rec[2]),
			Country:  strings.TrimSpace(rec[3]),
			Timezone: loc.String(),
			loc:      loc,
		}
	}
	if len(s.byCode) == 0 {
		return nil, errors.New("airports: empty reference set")
	}
	return s, nil
}

// Normalize uppercases and trims a user-supplied code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code (after normalization) is in the set.
func (s *Set) Valid(code string) bool {
	_, ok := s.Lookup(code)
	return ok
}

func (s *Set) Lookup(code string) (Airport, bool) {
	if s == nil {
		return Airport{}, false
	}
	a, ok := s.byCode[Normalize(code)]
	return a, ok
}

// Location returns the airport's timezone, or nil for unknown codes.
func (s *Set) Location(code string) *time.Location {
	a, ok := s.Lookup(code)
	if !ok {
		return nil
	}
	return a.loc
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.byCode)
}

// Codes returns all codes, sorted.
func (s *Set) Codes() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.byCode))
	for c := range s.byCode {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
