package dispatch

import (
	"context"
	"strings"

	"meterhub/internal/meter"
)

// Sink stores or forwards a decoded meter message.
// Process receives a read-only message and must not keep it after returning.
type Sink interface {
	Name() string
	Process(ctx context.Context, msg *meter.Message) error
}

// IsEnabled reports whether name appears in the enabled list, ignoring case.
func IsEnabled(name string, enabled []string) bool {
	for _, e := range enabled {
		if strings.EqualFold(strings.TrimSpace(e), name) {
			return true
		}
	}
	return false
}
