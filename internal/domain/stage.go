package domain

// Stage is the position of a task in its lifecycle state machine.
type Stage int

const (
	StageCreated Stage = iota
	StageConfiguring
	StageWaitingDone
	StageDownloading
	StageProcessing
	StageUploading
	StageCompleted
	StageCancelling
	StageCancelled
	StageFailed
)

var stageNames = [...]string{
	"created",
	"configuring",
	"waiting_done",
	"downloading",
	"processing",
	"uploading",
	"completed",
	"cancelling",
	"cancelled",
	"failed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// Terminal reports whether the stage absorbs: no transition leaves it.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageCancelled || s == StageFailed
}

// Cancellable reports whether a cancel request may still take effect.
func (s Stage) Cancellable() bool {
	return !s.Terminal() && s != StageCancelling
}

// CanTransitionTo reports whether next is a legal successor of s. Pipeline
// stages advance strictly forward; Cancelling and Failed are reachable from
// any non-terminal stage, Cancelled only from Cancelling.
func (s Stage) CanTransitionTo(next Stage) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StageFailed:
		return s != StageCancelling
	case StageCancelling:
		return s != StageCancelling
	case StageCancelled:
		return s == StageCancelling
	default:
		return s < next && next <= StageCompleted
	}
}
