package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/tewa-sim/tewa/pkg/types"
)

// zonedLayouts carry an explicit offset; naiveLayouts are read as UTC.
var (
	zonedLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999Z07:00"}
	naiveLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", "2006-01-02T15:04"}
)

// ParseWhen parses an ISO-8601 instant. Timestamps without a zone are taken
// as UTC. The result is always in UTC.
func ParseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("engine: empty timestamp: %w", types.ErrInvalidInput)
	}
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("engine: invalid timestamp %q: %w", s, types.ErrInvalidInput)
}
