package types

import (
	"fmt"
	"time"
)

// OperationalMode is the global posture switch.
type OperationalMode string

const (
	ModeStealth  OperationalMode = "STEALTH"
	ModeSentinel OperationalMode = "SENTINEL"
	ModeWarRoom  OperationalMode = "WAR_ROOM"
)

// DefaultMode is used when the config row has never been written.
const DefaultMode = ModeSentinel

// ParseMode validates a mode name.
func ParseMode(s string) (OperationalMode, error) {
	switch m := OperationalMode(s); m {
	case ModeStealth, ModeSentinel, ModeWarRoom:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// RequiresConfirmation reports whether entering the mode needs an explicit
// confirm step from the caller.
func (m OperationalMode) RequiresConfirmation() bool {
	return m == ModeWarRoom
}

// ModePresentation is static display metadata for a mode. It is consumed by
// dashboards only and has no effect on alerting.
type ModePresentation struct {
	Label             string  `json:"label"`
	PulseAccent       string  `json:"pulse_accent"`
	ScanlineIntensity float64 `json:"scanline_intensity"`
}

var modePresentations = map[OperationalMode]ModePresentation{
	ModeStealth:  {Label: "Stealth", PulseAccent: "#4b5563", ScanlineIntensity: 0.05},
	ModeSentinel: {Label: "Sentinel", PulseAccent: "#22d3ee", ScanlineIntensity: 0.15},
	ModeWarRoom:  {Label: "War Room", PulseAccent: "#ef4444", ScanlineIntensity: 0.35},
}

// Presentation returns the display metadata for the mode.
func (m OperationalMode) Presentation() ModePresentation {
	return modePresentations[m]
}

// ModeConfig is the singleton operational mode record.
type ModeConfig struct {
	Mode      OperationalMode `json:"mode"`
	UpdatedAt time.Time       `json:"updated_at"`
	UpdatedBy string          `json:"updated_by"`
}
