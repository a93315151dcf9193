package airports

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultSet(t *testing.T) {
	t.Parallel()
	s, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	for _, code := range []string{"KRK", "wmi", " dub "} {
		if !s.Valid(code) {
			t.Fatalf("%q should be valid", code)
		}
	}
	if s.Valid("XXX") || s.Valid("") {
		t.Fatal("unknown codes must be invalid")
	}

	a, ok := s.Lookup("krk")
	if !ok {
		t.Fatal("KRK missing")
	}
	if a.Label() != "Krakow, Poland" {
		t.Fatalf("Label = %q", a.Label())
	}
	if loc := s.Location("KRK"); loc == nil || loc.String() != "Europe/Warsaw" {
		t.Fatalf("Location = %v", loc)
	}
	if s.Location("XXX") != nil {
		t.Fatal("unknown code should have nil location")
	}
	codes := s.Codes()
	if len(codes) != s.Len() || codes[0] > codes[len(codes)-1] {
		t.Fatalf("Codes not sorted or incomplete: %d vs %d", len(codes), s.Len())
	}
}

func TestLoadFileReplacesEmbedded(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "airports.csv")
	body := "code,name,city,country,timezone\nabc,Alpha,Alpha City,Nowhere,UTC\n"
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	s, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Len() != 1 || !s.Valid("ABC") || s.Valid("KRK") {
		t.Fatalf("unexpected set: %v", s.Codes())
	}
}

func TestParseRejectsBadRows(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"bad header":   "iata,name,city,country,timezone\nKRK,Krakow,Krakow,Poland,Europe/Warsaw\n",
		"bad code":     "code,name,city,country,timezone\nKRAK,Krakow,Krakow,Poland,Europe/Warsaw\n",
		"bad timezone": "code,name,city,country,timezone\nKRK,Krakow,Krakow,Poland,Europe/Nowhere\n",
		"empty":        "code,name,city,country,timezone\n",
		"short row":    "code,name,city,country,timezone\nKRK,Krakow\n",
	}
	for name, body := range tests {
		if _, err := Parse(strings.NewReader(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
