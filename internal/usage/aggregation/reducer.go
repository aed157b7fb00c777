package aggregation

import (
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
)

// reducer folds event properties into a quantity. Events whose property is
// missing or of the wrong type are skipped.
type reducer interface {
	add(props map[string]any)
	result() (decimal.Decimal, error)
}

type sumReducer struct {
	property string
	total    decimal.Decimal
}

func newSum(property string) *sumReducer { return &sumReducer{property: property, total: decimal.Zero} }

func (s *sumReducer) add(props map[string]any) {
	if value, ok := usagedomain.NumericValue(props[s.property]); ok {
		s.total = s.total.Add(value)
	}
}

func (s *sumReducer) result() (decimal.Decimal, error) { return s.total, nil }

type maxReducer struct {
	property string
	best     decimal.Decimal
	seen     bool
}

func newMax(property string) *maxReducer { return &maxReducer{property: property} }

func (m *maxReducer) add(props map[string]any) {
	value, ok := usagedomain.NumericValue(props[m.property])
	if !ok {
		return
	}
	if !m.seen || value.GreaterThan(m.best) {
		m.best = value
		m.seen = true
	}
}

func (m *maxReducer) result() (decimal.Decimal, error) {
	if !m.seen {
		return decimal.Zero, usagedomain.ErrNoData
	}
	return m.best, nil
}

type uniqueReducer struct {
	property string
	values   map[string]struct{}
}

func newUnique(property string) *uniqueReducer {
	return &uniqueReducer{property: property, values: make(map[string]struct{})}
}

func (u *uniqueReducer) add(props map[string]any) {
	if key, ok := usagedomain.CanonicalValue(props[u.property]); ok {
		u.values[key] = struct{}{}
	}
}

func (u *uniqueReducer) result() (decimal.Decimal, error) {
	return decimal.NewFromInt(int64(len(u.values))), nil
}
