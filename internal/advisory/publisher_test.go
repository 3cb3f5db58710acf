package advisory

import (
	"testing"

	"github.com/nexusroom/server/internal/monitor"
)

func TestPercentilesEmptyIsZero(t *testing.T) {
	p50, p99 := percentiles(nil)
	if p50 != 0 || p99 != 0 {
		t.Fatalf("got (%v, %v), want (0, 0)", p50, p99)
	}
}

func TestPercentilesOrdersUnsortedSamples(t *testing.T) {
	samples := []monitor.Metric{
		{Value: 9}, {Value: 1}, {Value: 5}, {Value: 3}, {Value: 7},
	}
	p50, p99 := percentiles(samples)
	if p50 != 5 {
		t.Fatalf("p50 = %v, want 5", p50)
	}
	if p99 != 9 {
		t.Fatalf("p99 = %v, want 9 (max of 5 samples)", p99)
	}
}
