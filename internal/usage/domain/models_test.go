package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func validEvent() Event {
	return Event{
		OrgID:         1,
		CustomerID:    2,
		EventName:     "api_call",
		Timestamp:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		IdempotencyID: "k1",
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validEvent().Validate())

	cases := map[string]struct {
		mutate func(*Event)
		want   error
	}{
		"organization": {func(e *Event) { e.OrgID = 0 }, ErrInvalidOrganization},
		"customer":     {func(e *Event) { e.CustomerID = 0 }, ErrInvalidCustomer},
		"event name":   {func(e *Event) { e.EventName = "  " }, ErrInvalidEventName},
		"idempotency":  {func(e *Event) { e.IdempotencyID = "" }, ErrInvalidIdempotencyID},
		"timestamp":    {func(e *Event) { e.Timestamp = time.Time{} }, ErrInvalidTimestamp},
		"properties":   {func(e *Event) { e.Properties = datatypes.JSON(`[1,2]`) }, ErrInvalidProperties},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			e := validEvent()
			tc.mutate(&e)
			assert.ErrorIs(t, e.Validate(), tc.want)
		})
	}
}

func TestPropertyMapKeepsNumbersExact(t *testing.T) {
	e := validEvent()
	e.Properties = datatypes.JSON(`{"amount":12345678901234567890.123456789}`)

	props, err := e.PropertyMap()
	require.NoError(t, err)
	n, ok := props["amount"].(json.Number)
	require.True(t, ok)

	d, ok := NumericValue(n)
	require.True(t, ok)
	assert.Equal(t, "12345678901234567890.123456789", d.String())
}

func TestBillingWindow(t *testing.T) {
	from, to := BillingWindow(
		time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), to)
}

func TestCanonicalValue(t *testing.T) {
	one, _ := CanonicalValue(json.Number("1"))
	onePointZero, _ := CanonicalValue(json.Number("1.0"))
	oneString, _ := CanonicalValue("1")
	assert.Equal(t, one, onePointZero)
	assert.NotEqual(t, one, oneString)

	_, ok := CanonicalValue(nil)
	assert.False(t, ok)
}
