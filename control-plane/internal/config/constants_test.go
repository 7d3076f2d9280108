package config

import (
	"testing"
	"time"
)

func TestLivenessThresholds(t *testing.T) {
	// The sweep must run many times inside one offline window, otherwise an
	// agent could sit past the threshold for a full interval unnoticed.
	if StalenessSweepInterval >= OfflineThreshold {
		t.Errorf("StalenessSweepInterval (%v) should be less than OfflineThreshold (%v)",
			StalenessSweepInterval, OfflineThreshold)
	}
	if PulseRevertDelay >= StalenessSweepInterval {
		t.Errorf("PulseRevertDelay (%v) should be shorter than StalenessSweepInterval (%v)",
			PulseRevertDelay, StalenessSweepInterval)
	}
}

func TestAlertingThresholds(t *testing.T) {
	if EscalationSweepInterval >= EscalationThreshold {
		t.Errorf("EscalationSweepInterval (%v) should be less than EscalationThreshold (%v)",
			EscalationSweepInterval, EscalationThreshold)
	}
	if MaxAlerts <= 0 {
		t.Errorf("MaxAlerts must be positive, got %d", MaxAlerts)
	}
}

func TestTelemetryBucketBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		value int
		min   int
	}{
		{"default window", DefaultTelemetryHours, 1},
		{"hourly max", HourlyBucketMaxHours, DefaultTelemetryHours},
		{"four hour max", FourHourBucketMaxHours, HourlyBucketMaxHours + 1},
		{"max window", MaxTelemetryHours, FourHourBucketMaxHours + 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value < tt.min {
				t.Errorf("%s = %d, want >= %d", tt.name, tt.value, tt.min)
			}
		})
	}
}

func TestRealtimeBackoff(t *testing.T) {
	if RealtimeReconnectDelay <= 0 || RealtimeMaxReconnectDelay < RealtimeReconnectDelay {
		t.Errorf("invalid backoff bounds: base=%v max=%v", RealtimeReconnectDelay, RealtimeMaxReconnectDelay)
	}
	if RealtimeMaxReconnectDelay > time.Minute {
		t.Errorf("RealtimeMaxReconnectDelay (%v) too large for a live dashboard", RealtimeMaxReconnectDelay)
	}
}
