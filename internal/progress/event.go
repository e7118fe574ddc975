package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names a milestone in one clip run.
type Stage string

// Run stages, in the order a successful run emits them. CANONICAL only
// appears when a wrapper page was followed.
const (
	StageRunStart  Stage = "RUN_START"
	StageFetched   Stage = "FETCHED"
	StageCanonical Stage = "CANONICAL"
	StageConverted Stage = "CONVERTED"
	StageAssets    Stage = "ASSETS"
	StageImported  Stage = "IMPORTED"
	StageRunDone   Stage = "RUN_DONE"
	StageRunError  Stage = "RUN_ERROR"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Status classes reported on FETCHED events.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one stage milestone of a run.
type Event struct {
	RunID string
	// TS is filled by the emitter's clock.
	TS    time.Time
	Stage Stage
	// Site is the host label of URL.
	Site string
	URL  string
	// Bytes is the decoded page size on FETCHED events.
	Bytes       int64
	StatusClass StatusClass
	// Dur is the time spent in the stage; on RUN_DONE and RUN_ERROR it is
	// the whole run.
	Dur time.Duration
	// Note is short stage detail: the strategy, the canonical URL, the
	// outcome status or the failure reason.
	Note string
}

// Terminal reports whether the event ends its run.
func (e Event) Terminal() bool {
	return e.Stage == StageRunDone || e.Stage == StageRunError
}

// Validate rejects events the sinks cannot attribute.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageCanonical, StageConverted, StageAssets, StageImported, StageRunDone, StageRunError:
	case StageFetched:
		if e.StatusClass == "" {
			return errors.New("fetched event requires status class")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
