package types

import "time"

// TelemetryBucket counts heartbeats that fall into one fixed-width window.
type TelemetryBucket struct {
	Timestamp  time.Time `json:"timestamp"`
	Nominal    int       `json:"nominal"`
	Drift      int       `json:"drift"`
	Error      int       `json:"error"`
	Processing int       `json:"processing"`
	Offline    int       `json:"offline"`
	Total      int       `json:"total"`
}

// Sum returns the sum of the five status counters.
func (b TelemetryBucket) Sum() int {
	return b.Nominal + b.Drift + b.Error + b.Processing + b.Offline
}

// TelemetryWindow is a bucketed view over the last Hours hours.
type TelemetryWindow struct {
	Hours       int               `json:"hours"`
	BucketHours int               `json:"bucket_hours"`
	Buckets     []TelemetryBucket `json:"buckets"`
	GeneratedAt time.Time         `json:"generated_at"`
}
