// Package progress defines the crawl milestone events emitted by the
// scheduler and workers, plus the hub that fans them out to sinks.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageSessionStart       Stage = "SESSION_START"
	StageSessionDone        Stage = "SESSION_DONE"
	StageDirectoryFound     Stage = "DIRECTORY_FOUND"
	StageDirectoryActive    Stage = "DIRECTORY_ACTIVE"
	StageDirectoryCompleted Stage = "DIRECTORY_COMPLETED"
	StageProductSaved       Stage = "PRODUCT_SAVED"
	StageProductFailed      Stage = "PRODUCT_FAILED"
	StageFetchDone          Stage = "FETCH_DONE"
)

// Event captures a single crawl milestone.
type Event struct {
	// SessionID identifies one crawl run.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Directory is the directory path the event concerns, when any.
	Directory string
	// Level is the directory's hierarchy depth, when known.
	Level int
	// URL is the optional page URL; it must not contain credentials.
	URL string
	// CompletionRate carries the directory's completion ratio for
	// directory events.
	CompletionRate float64
	// StatusCode is the HTTP status for fetch events.
	StatusCode int
	// Dur captures fetch or session latency.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageSessionStart, StageSessionDone:
	case StageDirectoryFound, StageDirectoryActive, StageDirectoryCompleted:
		if e.Directory == "" {
			return fmt.Errorf("%s requires directory", e.Stage)
		}
	case StageProductSaved, StageProductFailed:
		if e.Directory == "" {
			return fmt.Errorf("%s requires directory", e.Stage)
		}
	case StageFetchDone:
		if e.URL == "" {
			return errors.New("fetch done requires url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
