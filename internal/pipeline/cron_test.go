package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCronTime(t *testing.T) {
	base := time.Date(2026, 10, 18, 10, 7, 30, 0, time.UTC) // a Sunday
	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 0 * * *", time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2026, 10, 18, 10, 15, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2026, 11, 1, 3, 0, 0, 0, time.UTC)},
		{"30 9-17/4 * * 1-5", time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)},
		{"8 10 * * *", time.Date(2026, 10, 18, 10, 8, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := nextCronTime(tt.expr, base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCronErrors(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "61 * * * *", "*/0 * * * *", "a * * * *", "5-1 * * * *"} {
		t.Run(expr, func(t *testing.T) {
			assert.Error(t, ValidateCron(expr))
		})
	}
}
