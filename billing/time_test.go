package billing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_AddMonths_ClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2015-01-01", 1, "2015-02-01"},
		{"2015-01-31", 1, "2015-02-28"},
		{"2016-01-31", 1, "2016-02-29"},
		{"2015-03-31", 1, "2015-04-30"},
		{"2015-11-15", 3, "2016-02-15"},
		{"2015-01-01", 12, "2016-01-01"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, MustParseDate(tt.from).AddMonths(tt.months).String())
		})
	}
}

func TestDate_MonthsUntil(t *testing.T) {
	start := MustParseDate("2015-02-15")

	assert.Equal(t, 10, start.MonthsUntil(MustParseDate("2016-01-01")))
	assert.Equal(t, 11, start.MonthsUntil(MustParseDate("2016-01-15")))
	assert.Equal(t, 0, start.MonthsUntil(MustParseDate("2015-03-14")))
	assert.Equal(t, 0, start.MonthsUntil(start))
	assert.Equal(t, 0, start.MonthsUntil(MustParseDate("2015-01-01")))
}

func TestParseDate_RejectsOtherLayouts(t *testing.T) {
	_, err := ParseDate("01/02/2015")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestDate_JSONRoundTrip(t *testing.T) {
	type wrapper struct {
		On Date `json:"on"`
	}

	b, err := json.Marshal(wrapper{On: NewDate(2015, 2, 1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"on":"2015-02-01"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"on":"2015-03-15"}`), &w))
	assert.True(t, w.On.Equal(NewDate(2015, 3, 15)))
}
