package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsPeakWindow(t *testing.T) {
	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"year-end window start", time.Date(2026, 1, 28, 12, 0, 0, 0, time.UTC), true},
		{"year-end window crosses month boundary", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), true},
		{"year-end window end", time.Date(2026, 2, 3, 23, 59, 0, 0, time.UTC), true},
		{"day after year-end window", time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC), false},
		{"q1 deadline window", time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC), true},
		{"q2 deadline window", time.Date(2026, 7, 12, 0, 0, 0, 0, time.UTC), true},
		{"q3 deadline window", time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), true},
		{"day before q3 window", time.Date(2026, 10, 11, 0, 0, 0, 0, time.UTC), false},
		{"ordinary day", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPeakWindow(tt.date))
		})
	}
}
