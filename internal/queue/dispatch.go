package queue

import (
	"strings"

	"karaoke-bot/internal/models"
)

type rule struct {
	kind  models.EventKind
	match func(models.Inbound) bool
}

// rules are evaluated in order, first match wins.
var rules = []rule{
	{kind: models.EventStartCommand, match: isStartCommand},
	{kind: models.EventMediaMessage, match: func(in models.Inbound) bool { return in.Media != nil }},
}

// Classify tags an inbound message once, at the dispatch boundary.
func Classify(in models.Inbound) models.Event {
	for _, r := range rules {
		if r.match(in) {
			return models.Event{Kind: r.kind, Inbound: in}
		}
	}
	return models.Event{Kind: models.EventUnhandled, Inbound: in}
}

// isStartCommand accepts "/start", "/start@bot" and "/start payload".
func isStartCommand(in models.Inbound) bool {
	fields := strings.Fields(in.Text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd == "/start"
}
