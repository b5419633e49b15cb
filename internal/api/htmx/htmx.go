// Package htmx holds the request and response headers the picker UI relies on.
package htmx

import (
	"net/http"
	"strings"
)

const (
	headerRequest = "HX-Request"
	headerTrigger = "HX-Trigger"
)

// IsRequest reports whether r was issued by htmx.
func IsRequest(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get(headerRequest), "true")
}

// Trigger sets the client events fired after the swap. Events are sent as a
// comma separated list; empty names are skipped.
func Trigger(w http.ResponseWriter, events ...string) {
	names := make([]string, 0, len(events))
	for _, event := range events {
		if event = strings.TrimSpace(event); event != "" {
			names = append(names, event)
		}
	}
	if len(names) == 0 {
		return
	}
	w.Header().Set(headerTrigger, strings.Join(names, ", "))
}
