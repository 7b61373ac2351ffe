package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tewa-sim/tewa/pkg/types"
)

// condition is a parsed "field operator value" expression.
type condition struct {
	field     string
	op        string
	rhs       string
	threshold float64
}

// parseCondition parses a rule condition.
//
// Supported expressions (field operator value):
//
//	score > 0.8
//	cpa_km <= 2
//	tcpa_s < 60
//	tdb_km < 25
//	tdb_s < 120
//	twrp_s < 90
//	level == high
//	source == track
func parseCondition(s string) (condition, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", s)
	}
	c := condition{field: parts[0], op: parts[1], rhs: parts[2]}

	switch c.field {
	case "level", "source":
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: %s supports == and != only", s, c.field)
		}
		return c, nil
	case "score", "cpa_km", "tcpa_s", "tdb_km", "tdb_s", "twrp_s":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown field %q", s, c.field)
	}
	switch c.op {
	case ">", ">=", "<", "<=", "==":
	default:
		return condition{}, fmt.Errorf("condition %q: unknown operator %q", s, c.op)
	}
	v, err := strconv.ParseFloat(c.rhs, 64)
	if err != nil {
		return condition{}, fmt.Errorf("condition %q: threshold %q is not a number", s, c.rhs)
	}
	c.threshold = v
	return c, nil
}

// eval reports whether r satisfies c and the value that was compared.
// A component that is absent (never reached, already passed) never fires.
func (c condition) eval(r *types.ScoreRecord) (bool, float64) {
	switch c.field {
	case "level":
		return (r.Level == c.rhs) == (c.op == "=="), r.Score
	case "source":
		return (string(r.Source) == c.rhs) == (c.op == "=="), r.Score
	}
	v, ok := numericField(c.field, r)
	if !ok {
		return false, 0
	}
	return compareFloat(v, c.op, c.threshold), v
}

// numericField maps a field name to its value in the record.
func numericField(field string, r *types.ScoreRecord) (float64, bool) {
	opt := func(p *float64) (float64, bool) {
		if p == nil {
			return 0, false
		}
		return *p, true
	}
	switch field {
	case "score":
		return r.Score, true
	case "cpa_km":
		return r.CPAKm, true
	case "tdb_km":
		return r.TDBKm, true
	case "tcpa_s":
		return opt(r.TCPAS)
	case "tdb_s":
		return opt(r.TDBS)
	case "twrp_s":
		return opt(r.TWRPS)
	default:
		return 0, false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	default:
		return false
	}
}
