package runner

import (
	"time"

	"github.com/kuitang/uirunner/internal/errs"
	"github.com/kuitang/uirunner/internal/scenario"
)

// Status is the final outcome of a run.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusErrored Status = "errored"
)

// ExitCode maps statuses to the process exit status: the worst one wins.
func ExitCode(statuses ...Status) int {
	code := errs.ExitPassed
	for _, s := range statuses {
		switch s {
		case StatusErrored:
			return errs.ExitErrored
		case StatusFailed:
			code = errs.ExitFailed
		}
	}
	return code
}

// State is a phase of the run state machine.
type State string

const (
	StateCreated    State = "created"
	StateStarted    State = "started"
	StateNavigating State = "navigating"
	StateExecuting  State = "executing"
	StateAsserting  State = "asserting"
	StatePassed     State = "passed"
	StateFailed     State = "failed"
	StateErrored    State = "errored"
	StateClosed     State = "closed"
)

// StepRecord is the outcome of one executed step.
type StepRecord struct {
	Index    int           `json:"index"`
	Action   string        `json:"action"`
	Label    string        `json:"label"`
	Duration time.Duration `json:"duration"`
	Code     errs.Code     `json:"code,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Result is the outcome of one scenario run.
type Result struct {
	RunID    string `json:"run_id"`
	Scenario string `json:"scenario"`
	Status   Status `json:"status"`
	// Phase is the last state entered before the terminal one.
	Phase State `json:"phase"`
	// States is the full path taken through the state machine, ending in closed.
	States []State `json:"states"`
	// FailedStep is the index of the failing step, -1 when none.
	FailedStep    int          `json:"failed_step"`
	Code          errs.Code    `json:"code,omitempty"`
	Message       string       `json:"message,omitempty"`
	Expected      string       `json:"expected,omitempty"`
	Observed      string       `json:"observed,omitempty"`
	Degraded      []string     `json:"degraded,omitempty"`
	StepsExecuted int          `json:"steps_executed"`
	StartedAt     time.Time    `json:"started_at"`
	FinishedAt    time.Time    `json:"finished_at"`
	Artifacts     []string     `json:"artifacts,omitempty"`
	Steps         []StepRecord `json:"steps,omitempty"`
}

// Duration is the wall time of the run.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Passed reports whether the run passed.
func (r Result) Passed() bool { return r.Status == StatusPassed }

func (r *Result) enter(s State) {
	switch s {
	case StatePassed, StateFailed, StateErrored, StateClosed:
	default:
		r.Phase = s
	}
	r.States = append(r.States, s)
}

// Aborted is the result of a scenario that never got a session, for example
// because its launch slot was canceled.
func Aborted(sc scenario.Scenario, runID string, err error) Result {
	now := time.Now().UTC()
	res := Result{
		RunID:      runID,
		Scenario:   sc.Name,
		Status:     StatusErrored,
		FailedStep: -1,
		Code:       errs.CodeOf(err),
		Message:    errs.MessageOf(err),
		StartedAt:  now,
		FinishedAt: now,
	}
	res.enter(StateCreated)
	res.enter(StateErrored)
	res.enter(StateClosed)
	return res
}
