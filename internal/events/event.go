// Package events carries ordered status events from the orchestrator to the UI
// and any other observers.
package events

import (
	"encoding/json"
	"time"

	"github.com/turtacn/booklore-runner/pkg/consts"
)

// Phase tells whether an event belongs to the startup or the shutdown sequence.
type Phase string

const (
	PhaseStartup  Phase = "startup"
	PhaseShutdown Phase = "shutdown"
)

// Kind distinguishes per-stage status events from the two sequence signals.
type Kind string

const (
	KindStatus        Kind = "status"
	KindReady         Kind = "ready"
	KindShutdownStart Kind = "shutdown-start"
)

// Event is an immutable status update. Stage, Status and Progress are only
// meaningful for KindStatus events.
type Event struct {
	Kind     Kind
	Phase    Phase
	Stage    consts.Stage
	Status   consts.Status
	Message  string
	Progress *int
	URL      string
	Time     time.Time
	RunID    string
}

// Status builds a per-stage status event. A negative progress means none.
func Status(phase Phase, stage consts.Stage, status consts.Status, message string, progress int) Event {
	ev := Event{
		Kind:    KindStatus,
		Phase:   phase,
		Stage:   stage,
		Status:  status,
		Message: message,
	}
	if progress >= 0 {
		if progress > 100 {
			progress = 100
		}
		ev.Progress = &progress
	}
	return ev
}

// Ready signals that the application answers on url and owns user interaction.
func Ready(url string) Event {
	return Event{Kind: KindReady, Phase: PhaseStartup, URL: url, Message: "BookLore is ready"}
}

// ShutdownStart precedes the per-stage shutdown events.
func ShutdownStart() Event {
	return Event{Kind: KindShutdownStart, Phase: PhaseShutdown, Message: "Shutting down"}
}

type wireEvent struct {
	Kind     Kind           `json:"kind"`
	Phase    Phase          `json:"phase"`
	Stage    *consts.Stage  `json:"stage,omitempty"`
	Status   *consts.Status `json:"status,omitempty"`
	Message  string         `json:"message"`
	Progress *int           `json:"progress,omitempty"`
	URL      string         `json:"url,omitempty"`
	Time     time.Time      `json:"time"`
	RunID    string         `json:"run_id,omitempty"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{
		Kind:     e.Kind,
		Phase:    e.Phase,
		Message:  e.Message,
		Progress: e.Progress,
		URL:      e.URL,
		Time:     e.Time,
		RunID:    e.RunID,
	}
	if e.Kind == KindStatus {
		stage, status := e.Stage, e.Status
		w.Stage, w.Status = &stage, &status
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Kind:     w.Kind,
		Phase:    w.Phase,
		Message:  w.Message,
		Progress: w.Progress,
		URL:      w.URL,
		Time:     w.Time,
		RunID:    w.RunID,
	}
	if w.Stage != nil {
		e.Stage = *w.Stage
	}
	if w.Status != nil {
		e.Status = *w.Status
	}
	return nil
}

// ProgressValue returns the progress or -1 when none was reported.
func (e Event) ProgressValue() int {
	if e.Progress == nil {
		return -1
	}
	return *e.Progress
}

// Personal.AI order the ending
