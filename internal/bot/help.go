package bot

import (
	"html"
	"strings"
)

// helpText renders the command list in HTML parse mode.
func (m *Manager) helpText() string {
	lines := []string{
		"<b>Commands</b>",
		"",
	}
	for _, c := range m.Commands() {
		line := "• <code>/" + html.EscapeString(c.Name) + "</code>"
		if c.Description != "" {
			line += " - " + html.EscapeString(c.Description)
		}
		lines = append(lines, line)
	}
	lines = append(lines,
		"",
		"Send an airport IATA code (e.g. <code>KRK</code>) to subscribe to fares departing from it.",
	)
	return strings.Join(lines, "\n")
}
