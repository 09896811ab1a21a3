package retry

import (
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 1 * time.Second},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{10, 30 * time.Second},
		{100, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := Backoff(time.Second, 30*time.Second, tt.n); got != tt.want {
			t.Errorf("Backoff(1s, 30s, %d) = %s, want %s", tt.n, got, tt.want)
		}
	}
}

func TestBackoffZeroBase(t *testing.T) {
	if got := Backoff(0, time.Second, 3); got != 0 {
		t.Fatalf("Backoff with zero base = %s, want 0", got)
	}
}

func TestBackoffWithoutCapUsesCeiling(t *testing.T) {
	for _, n := range []int{40, 64, 100} {
		if got := Backoff(time.Second, 0, n); got != MaxBackoff {
			t.Errorf("Backoff(1s, 0, %d) = %s, want %s", n, got, MaxBackoff)
		}
	}
	if got := Backoff(time.Second, 0, 3); got != 4*time.Second {
		t.Errorf("Backoff(1s, 0, 3) = %s, want 4s", got)
	}
}

func TestBackoffLargeBaseDoesNotOverflow(t *testing.T) {
	base := time.Duration(1 << 62)
	if got := Backoff(base, 0, 100); got != MaxBackoff {
		t.Fatalf("Backoff(2^62ns, 0, 100) = %s, want %s", got, MaxBackoff)
	}
	if got := Backoff(time.Hour, time.Hour, 5); got != MaxBackoff {
		t.Fatalf("Backoff(1h, 1h, 5) = %s, want %s", got, MaxBackoff)
	}
}
