package models

import "fmt"

// ProgressType tags a progress line emitted by the compute backend
type ProgressType string

const (
	ProgressMessage ProgressType = "PROGRESS"       // Free-form status text
	ProgressStage   ProgressType = "PROGRESS_STAGE" // Named pipeline stage
)

// ProgressEvent is one asynchronous status update for a job.
//
// Index is set when the job was split, so a caller watching several chunks
// can tell which chunk emitted the event.
type ProgressEvent struct {
	Type    ProgressType `json:"type"`
	Message string       `json:"message,omitempty"`
	Stage   string       `json:"stage,omitempty"`
	Index   *int         `json:"index,omitempty"`
}

// ProgressSink receives progress events for a registered job key
type ProgressSink func(ev ProgressEvent)

// IsProgressType reports whether t names a progress line
func IsProgressType(t string) bool {
	return t == string(ProgressMessage) || t == string(ProgressStage)
}

// Validate checks the event carries the field its type requires
func (e ProgressEvent) Validate() error {
	switch e.Type {
	case ProgressMessage:
		return nil
	case ProgressStage:
		if e.Stage == "" {
			return fmt.Errorf("stage event without a stage")
		}
		return nil
	default:
		return fmt.Errorf("unknown progress type %q", e.Type)
	}
}

// Tagged returns a copy of the event carrying the chunk index of key
func (e ProgressEvent) Tagged(key JobKey) ProgressEvent {
	e.Index = key.IndexPtr()
	return e
}
