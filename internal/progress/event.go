package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageFetchStart  Stage = "FETCH_START"
	StageFetchDone   Stage = "FETCH_DONE"
	StageRecordDone  Stage = "RECORD_DONE"
	StageIndexWrote  Stage = "INDEX_WRITTEN"
	StageRecordSkip  Stage = "RECORD_SKIPPED"
	StageRewriteFail Stage = "REWRITE_FAILED"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of an archive build run.
type Event struct {
	// RunID identifies the build run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Host scopes fetch events to the remote host.
	Host string
	URL  string
	// Record is the record folder name for record-level stages.
	Record string
	// Bytes is the number of bytes written to disk.
	Bytes int64
	// StatusClass groups HTTP response codes (2xx, 3xx, etc).
	StatusClass StatusClass
	Dur         time.Duration
	// Failed marks a fetch that did not land on disk.
	Failed bool
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError, StageIndexWrote:
	case StageFetchStart:
		if e.Host == "" {
			return errors.New("fetch start requires host")
		}
	case StageFetchDone:
		if e.Host == "" {
			return errors.New("fetch done requires host")
		}
		if e.StatusClass == "" {
			return errors.New("fetch done requires status class")
		}
	case StageRecordDone, StageRecordSkip, StageRewriteFail:
		if e.Record == "" {
			return errors.New("record stage requires record")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ClassifyStatus groups HTTP status codes for fetch events.
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
