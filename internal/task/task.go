package task

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
)

// Task is the live state container for one user request. It is mutated only
// by the single goroutine driving its pipeline; the cancellation path only
// closes the cancel channel. Stage transitions are validated against the
// domain state machine.
type Task struct {
	ID             string
	Owner          int64
	Chat           int64
	Kind           domain.TaskKind
	RequestedCount int
	OutputName     string
	WorkDir        string
	CreatedAt      time.Time

	Inputs     []domain.InputRef
	Downloaded []domain.Downloaded
	Config     domain.ToolConfig
	StatusMsg  ports.MessageRef

	mu         sync.Mutex
	stage      domain.Stage
	note       string
	failure    error
	cancelOnce sync.Once
	cancelCh   chan struct{}
}

func newTask(id string, p CreateParams) *Task {
	name := p.OutputName
	if name != "" && filepath.Ext(name) == "" {
		name += ".mp4"
	}
	return &Task{
		ID:             id,
		Owner:          p.Owner,
		Chat:           p.Chat,
		Kind:           p.Kind,
		RequestedCount: p.RequestedCount,
		OutputName:     name,
		WorkDir:        filepath.Join(p.TasksRoot, id),
		CreatedAt:      p.Now,
		stage:          domain.StageCreated,
		cancelCh:       make(chan struct{}),
	}
}

// EnsureWorkDir creates the task scratch directory.
func (t *Task) EnsureWorkDir() error {
	return os.MkdirAll(t.WorkDir, 0o755)
}

// RemoveWorkDir deletes the scratch directory. Idempotent.
func (t *Task) RemoveWorkDir() error {
	return os.RemoveAll(t.WorkDir)
}

func (t *Task) Stage() domain.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}

// SetStage advances the state machine. Illegal transitions are rejected with
// domain.ErrInvalidTransition.
func (t *Task) SetStage(next domain.Stage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stage.CanTransitionTo(next) {
		return domain.ErrInvalidTransition
	}
	t.stage = next
	return nil
}

// Cancel requests cancellation. Idempotent; the pipeline observes the signal
// at every suspension point and performs the Cancelling -> Cancelled walk
// itself.
func (t *Task) Cancel() {
	t.cancelOnce.Do(func() { close(t.cancelCh) })
}

// Cancelled returns the one-shot cancel broadcast channel.
func (t *Task) Cancelled() <-chan struct{} {
	return t.cancelCh
}

// CancelRequested reports whether the cancel signal has been set.
func (t *Task) CancelRequested() bool {
	select {
	case <-t.cancelCh:
		return true
	default:
		return false
	}
}

// Bind derives a context that is cancelled when either parent is done or the
// task cancel signal fires. Every child (download, subprocess, upload) runs
// under such a context, so killing children reduces to cancelling it.
func (t *Task) Bind(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-t.cancelCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// SetNote records a short human-readable progress note for observers.
func (t *Task) SetNote(note string) {
	t.mu.Lock()
	t.note = note
	t.mu.Unlock()
}

func (t *Task) SetError(err error) {
	t.mu.Lock()
	t.failure = err
	t.mu.Unlock()
}

func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// Info is an immutable snapshot for status reporting.
type Info struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Stage     string    `json:"stage"`
	Owner     int64     `json:"owner"`
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t *Task) Snapshot() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:        t.ID,
		Kind:      string(t.Kind),
		Stage:     t.stage.String(),
		Owner:     t.Owner,
		Note:      t.note,
		CreatedAt: t.CreatedAt,
	}
}
