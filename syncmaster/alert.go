package syncmaster

import "time"

type (
	// Alert is a user-visible message about something the engine could not
	// do, e.g. open a MIDI port, or had to do on its own, e.g. correct drift.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
		Duration time.Duration
	}

	AlertPriority int
)

const (
	Info AlertPriority = iota
	Warning
	Error
)

const defaultAlertDuration = 3 * time.Second

var priorityNames = [...]string{"info", "warning", "error"}

func (p AlertPriority) String() string {
	if p < 0 || int(p) >= len(priorityNames) {
		return "unknown"
	}
	return priorityNames[p]
}
