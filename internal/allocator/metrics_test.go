package allocator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInitMetrics(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())
	if m == nil {
		t.Fatal("InitMetrics returned nil")
	}

	tests := []struct {
		name   string
		metric interface{}
	}{
		{"AttemptsTotal", m.AttemptsTotal},
		{"RacesTotal", m.RacesTotal},
		{"AcquireDuration", m.AcquireDuration},
		{"ReleasesTotal", m.ReleasesTotal},
		{"ReleaseFailuresTotal", m.ReleaseFailuresTotal},
		{"HeldID", m.HeldID},
	}
	for _, tt := range tests {
		if tt.metric == nil {
			t.Errorf("%s is nil", tt.name)
		}
	}

	if InitMetrics(prometheus.NewRegistry()) != m {
		t.Error("InitMetrics did not return the singleton")
	}
	if GetMetrics() != m {
		t.Error("GetMetrics did not return the singleton")
	}
}
