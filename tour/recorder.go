package tour

import "time"

// EventType names an analytics event.
type EventType string

const (
	EventTourStarted   EventType = "tour_started"
	EventStepShown     EventType = "step_shown"
	EventStepSkipped   EventType = "step_skipped"
	EventStepFailed    EventType = "step_failed"
	EventFinalShown    EventType = "final_shown"
	EventTourCompleted EventType = "tour_completed"
	EventTourEnded     EventType = "tour_ended"
)

// Event is one analytics record, correlated by InstanceID.
type Event struct {
	Type       EventType
	TourID     string
	InstanceID string
	StepID     string
	StepIndex  int
	At         time.Time
	// Dwell is the time spent on the previous step (step_shown) or on the
	// whole instance (tour_completed, tour_ended).
	Dwell  time.Duration
	Reason string
}

// Recorder receives analytics events. Record runs on the engine loop and
// must not block.
type Recorder interface {
	Record(Event)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(Event)

// Record implements Recorder.
func (f RecorderFunc) Record(ev Event) { f(ev) }

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
