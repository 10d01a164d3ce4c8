package task

import (
	"math/rand/v2"
	"sync"
	"time"

	"medialeech/internal/domain"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
const idLength = 6

// CreateParams describes a task to be registered.
type CreateParams struct {
	Kind           domain.TaskKind
	Owner          int64
	Chat           int64
	OutputName     string
	RequestedCount int
	TasksRoot      string
	Now            time.Time
}

// Registry is the in-memory map of active tasks. Removal does not touch the
// filesystem; terminal cleanup belongs to the pipeline.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Create allocates a fresh id, builds the task and registers it.
func (r *Registry) Create(p CreateParams) *Task {
	if p.Now.IsZero() {
		p.Now = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.newIDLocked()
	t := newTask(id, p)
	r.tasks[id] = t
	return t
}

func (r *Registry) newIDLocked() string {
	for {
		buf := make([]byte, idLength)
		for i := range buf {
			buf[i] = idAlphabet[rand.IntN(len(idAlphabet))]
		}
		id := string(buf)
		if _, taken := r.tasks[id]; !taken {
			return id
		}
	}
}

func (r *Registry) Get(id string) (*Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Remove drops the task from the registry. Idempotent.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Snapshot returns the current active tasks in unspecified order.
func (r *Registry) Snapshot() []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t)
	}
	return out
}

func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// FindByOwner returns the owner's tasks currently in one of the given
// stages. Used to route callbacks to the task awaiting them.
func (r *Registry) FindByOwner(owner int64, stages ...domain.Stage) []*Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Task
	for _, t := range r.tasks {
		if t.Owner != owner {
			continue
		}
		st := t.Stage()
		for _, want := range stages {
			if st == want {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// OwnerHasKind reports whether the owner already runs a task of kind.
func (r *Registry) OwnerHasKind(owner int64, kind domain.TaskKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.Owner == owner && t.Kind == kind && !t.Stage().Terminal() {
			return true
		}
	}
	return false
}

// CancelAll broadcasts the cancel signal to every active task.
func (r *Registry) CancelAll() {
	for _, t := range r.Snapshot() {
		t.Cancel()
	}
}
