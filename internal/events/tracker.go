package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/turtacn/booklore-runner/pkg/consts"
)

// StageState is the latest known status of one stage.
type StageState struct {
	Stage    consts.Stage  `json:"stage"`
	Status   consts.Status `json:"status"`
	Message  string        `json:"message,omitempty"`
	Progress int           `json:"progress"`
	Updated  time.Time     `json:"updated,omitempty"`
}

// Tracker holds the per-stage status for the current pass and rejects any
// transition that would move a stage backwards.
type Tracker struct {
	mu     sync.RWMutex
	states map[consts.Stage]*StageState
}

// NewTracker returns a tracker with every stage Pending.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset puts every stage back to Pending for a new pass.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[consts.Stage]*StageState, len(consts.Stages))
	for _, s := range consts.Stages {
		t.states[s] = &StageState{Stage: s, Status: consts.StatusPending}
	}
}

// Apply records a status update. Pending -> Active -> Complete|Error is the only
// allowed direction; repeating Active with new progress is allowed as long as
// progress does not regress.
func (t *Tracker) Apply(stage consts.Stage, status consts.Status, message string, progress int) error {
	if !stage.Valid() {
		return fmt.Errorf("unknown stage %d", int(stage))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[stage]
	switch {
	case st.Status.Terminal():
		return fmt.Errorf("stage %s already %s", stage, st.Status)
	case status < st.Status:
		return fmt.Errorf("stage %s cannot move from %s to %s", stage, st.Status, status)
	case status == consts.StatusActive && progress >= 0 && progress < st.Progress:
		return fmt.Errorf("stage %s progress regressed from %d to %d", stage, st.Progress, progress)
	}

	st.Status = status
	st.Message = message
	if progress >= 0 {
		st.Progress = progress
	}
	if status == consts.StatusComplete {
		st.Progress = 100
	}
	st.Updated = time.Now()
	return nil
}

// Status returns the current status of stage.
func (t *Tracker) Status(stage consts.Stage) consts.Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.states[stage]; ok {
		return st.Status
	}
	return consts.StatusPending
}

// Snapshot returns every stage's state in startup order.
func (t *Tracker) Snapshot() []StageState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]StageState, 0, len(consts.Stages))
	for _, s := range consts.Stages {
		out = append(out, *t.states[s])
	}
	return out
}

// Personal.AI order the ending
