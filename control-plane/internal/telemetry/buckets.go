// Package telemetry buckets heartbeat events into fixed-width time windows
// for charting.
package telemetry

import (
	"strings"
	"time"

	"github.com/pilot-net/agent-pulse/control-plane/internal/config"
	"github.com/pilot-net/agent-pulse/pkg/types"
)

// BucketWidth returns the bucket width for a window of hours: 1h up to
// 48h, 4h up to 168h, 24h beyond.
func BucketWidth(hours int) time.Duration {
	switch {
	case hours <= config.HourlyBucketMaxHours:
		return time.Hour
	case hours <= config.FourHourBucketMaxHours:
		return 4 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// slots returns the first slot start, the width and the slot count of the
// window of hours ending at now. The last slot is the one containing now.
func slots(hours int, now time.Time) (time.Time, time.Duration, int) {
	width := BucketWidth(hours)
	span := time.Duration(hours) * time.Hour
	n := int((span + width - 1) / width)
	if n < 1 {
		n = 1
	}
	last := now.UTC().Truncate(width)
	first := last.Add(-time.Duration(n-1) * width)
	return first, width, n
}

// WindowStart returns the earliest instant counted by a window of hours
// ending at now.
func WindowStart(hours int, now time.Time) time.Time {
	first, _, _ := slots(hours, now)
	return first
}

// Compute partitions events into the window of hours ending at now. Every
// slot is present, zero-filled when no event falls in it, and Total is the
// sum of the five counters. Events outside the window are ignored.
func Compute(events []types.HeartbeatEvent, hours int, now time.Time) []types.TelemetryBucket {
	first, width, n := slots(hours, now)

	buckets := make([]types.TelemetryBucket, n)
	for i := range buckets {
		buckets[i].Timestamp = first.Add(time.Duration(i) * width)
	}

	for _, e := range events {
		at := e.CreatedAt.UTC()
		if at.Before(first) {
			continue
		}
		idx := int(at.Sub(first) / width)
		if idx >= n {
			continue
		}
		count(&buckets[idx], e.Status)
	}

	for i := range buckets {
		buckets[i].Total = buckets[i].Sum()
	}
	return buckets
}

func count(b *types.TelemetryBucket, status types.AgentStatus) {
	if strings.EqualFold(string(status), string(types.StatusOffline)) {
		b.Offline++
		return
	}
	switch types.NormalizeStatus(string(status)) {
	case types.StatusDrift:
		b.Drift++
	case types.StatusError:
		b.Error++
	case types.StatusProcessing:
		b.Processing++
	default:
		b.Nominal++
	}
}
