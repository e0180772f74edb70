// Package triggers turns document changes into events for the notification
// dispatcher, the same way cloud document triggers do: one event per write
// with the document state before and after it.
package triggers

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

type Event struct {
	ID         string         `json:"id"`
	Kind       Kind           `json:"kind"`
	Path       string         `json:"path"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Collection is the top-level collection of the event's document.
func (e Event) Collection() string {
	collection, _, _ := strings.Cut(e.Path, "/")
	return collection
}

var eventNamespace = uuid.MustParse("6f1f9a52-3c1e-4d0e-9a55-2be0d6a2b7c4")

// EventID derives a stable id from one revision of one document, so a
// redelivered change maps to the id of its first delivery.
func EventID(kind Kind, path string, revision time.Time) string {
	name := string(kind) + "|" + path + "|" + revision.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

type Handler func(ctx context.Context, ev Event) error

// Bus carries events from the watcher to the dispatcher. Delivery is at
// least once.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	// Consume calls h for each event until ctx is done.
	Consume(ctx context.Context, h Handler) error
	Close() error
}

// Match reports whether path fits pattern and returns the values bound to
// its {placeholders}, e.g. "chats/{chatId}/messages/{messageId}".
func Match(pattern, path string) (map[string]string, bool) {
	want := strings.Split(pattern, "/")
	got := strings.Split(path, "/")
	if len(want) != len(got) {
		return nil, false
	}
	params := map[string]string{}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if got[i] == "" {
				return nil, false
			}
			params[seg[1:len(seg)-1]] = got[i]
			continue
		}
		if seg != got[i] {
			return nil, false
		}
	}
	return params, true
}
