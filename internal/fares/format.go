package fares

import (
	"html"
	"strconv"
	"strings"
)

const whenLayout = "2006-01-02, 15:04"

// Format renders one listing as a four-line HTML block:
//
//	<b>Price:</b> 19.99 USD
//	<b>From:</b> Krakow, Poland
//	<b>Destination:</b> Dublin, Ireland
//	<b>When:</b> 2024-02-01, 06:00
//
// The time is the departure's own (local) wall clock.
func Format(l Listing) string {
	var b strings.Builder
	b.Grow(96 + len(l.Origin) + len(l.Destination))
	b.WriteString("<b>Price:</b> ")
	b.WriteString(FormatPrice(l.Price))
	b.WriteString("\n<b>From:</b> ")
	b.WriteString(html.EscapeString(l.Origin))
	b.WriteString("\n<b>Destination:</b> ")
	b.WriteString(html.EscapeString(l.Destination))
	b.WriteString("\n<b>When:</b> ")
	b.WriteString(l.Departure.Format(whenLayout))
	return b.String()
}

// FormatAll keeps input order.
func FormatAll(ls []Listing) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = Format(l)
	}
	return out
}

func FormatPrice(p Price) string {
	s := strconv.FormatFloat(p.Value, 'f', 2, 64)
	if c := strings.TrimSpace(p.Currency); c != "" {
		s += " " + html.EscapeString(c)
	}
	return s
}
