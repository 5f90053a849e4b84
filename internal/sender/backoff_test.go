package sender

import (
	"testing"
	"time"
)

func TestBackoff_Doubles(t *testing.T) {
	base := time.Minute
	cap := time.Hour

	cases := []struct {
		n    int
		want time.Duration
	}{
		{0, time.Minute},
		{1, 2 * time.Minute},
		{2, 4 * time.Minute},
		{3, 8 * time.Minute},
		{5, 32 * time.Minute},
		{6, time.Hour},  // 64m caps
		{20, time.Hour}, // stays capped, no overflow
	}
	for _, tc := range cases {
		if got := Backoff(tc.n, base, cap); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.n, got, tc.want)
		}
	}
}

func TestBackoff_Defaults(t *testing.T) {
	if got := Backoff(0, 0, 0); got != time.Minute {
		t.Errorf("Backoff with zero base = %v, want 1m", got)
	}
	if got := Backoff(10, 0, 0); got != time.Hour {
		t.Errorf("Backoff with zero cap = %v, want 1h", got)
	}
}
