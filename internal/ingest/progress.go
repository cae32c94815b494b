package ingest

import (
	"time"
)

// Event type discriminators. Per-file step events carry no Type and use
// the Step field instead, mirroring what the UI consumes.
const (
	EventSetup      = "setup"
	EventFinalizing = "finalizing"
	EventDatasets   = "datasets"
	EventComplete   = "complete"
	EventError      = "error"

	StepProbing   = "probing"
	StepInserting = "inserting"
	StepSkipped   = "skipped"
)

type (
	// ProgressEvent is a single update emitted while an ingest runs.
	// Exactly one of Type or Step is set. Elapsed is stamped by the
	// sink, in seconds since the ingest started.
	ProgressEvent struct {
		Type    string  `json:"type,omitempty"`
		Step    string  `json:"step,omitempty"`
		Message string  `json:"message,omitempty"`
		Elapsed float64 `json:"elapsed"`

		// Per-file progress.
		Current int    `json:"current,omitempty"`
		Total   int    `json:"total,omitempty"`
		File    string `json:"file,omitempty"`

		// Setup.
		Subjects   int `json:"subjects,omitempty"`
		Packages   int `json:"packages,omitempty"`
		TotalFiles int `json:"total_files,omitempty"`

		// Dataset mirroring.
		Subject string `json:"subject,omitempty"`
		Created int    `json:"created,omitempty"`
		Skipped int    `json:"skipped,omitempty"`
		Errors  int    `json:"errors,omitempty"`

		// Completion.
		PackageID       string   `json:"package_id,omitempty"`
		FileCount       int      `json:"file_count,omitempty"`
		SubjectsCreated []string `json:"subjects_created,omitempty"`
	}

	// ProgressSink receives progress events during an ingest call. Sinks
	// must never block the orchestrator.
	ProgressSink interface {
		Send(event ProgressEvent)
	}

	discardSink struct{}

	// channelSink stamps events with their elapsed time and forwards
	// them on a channel, dropping events when the receiver lags.
	channelSink struct {
		events    chan<- ProgressEvent
		startedAt time.Time
	}
)

// DiscardProgress swallows every event; used by the synchronous endpoint.
func DiscardProgress() ProgressSink { return discardSink{} }

func (discardSink) Send(ProgressEvent) {}

// NewChannelSink returns a sink forwarding stamped events to the provided
// channel. The send is non-blocking: a full channel drops the event rather
// than stalling the ingest.
func NewChannelSink(events chan<- ProgressEvent) ProgressSink {
	return &channelSink{events: events, startedAt: time.Now()}
}

func (sink *channelSink) Send(event ProgressEvent) {
	event.Elapsed = roundElapsed(time.Since(sink.startedAt))

	select {
	case sink.events <- event:
	default:
	}
}

// roundElapsed reduces a duration to seconds with one decimal place.
func roundElapsed(duration time.Duration) float64 {
	return float64((duration+50*time.Millisecond)/(100*time.Millisecond)) / 10
}
