package usecase

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/task"
)

func TestRestartSequence(t *testing.T) {
	chat := newFakeChat()
	reg := task.NewRegistry()
	scratch := t.TempDir()
	if err := os.WriteFile(filepath.Join(scratch, "leftover.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	tk := reg.Create(task.CreateParams{Kind: domain.KindLeech, Owner: 7, TasksRoot: scratch})

	var exitCode = -1
	r := &Restarter{
		Registry:     reg,
		Chat:         chat,
		OwnerID:      42,
		ScratchRoots: []string{scratch},
		Grace:        10 * time.Millisecond,
		Logger:       discardLogger(),
		Exit:         func(code int) { exitCode = code },
	}

	r.Trigger("idle_timeout", 7)

	if exitCode != RestartExitCode {
		t.Errorf("exit code = %d, want %d", exitCode, RestartExitCode)
	}
	if !tk.CancelRequested() {
		t.Error("active task never received the cancel broadcast")
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Error("scratch root must be wiped")
	}
	texts := chat.sentTexts()
	if len(texts) != 2 {
		t.Fatalf("notifications = %d, want owner + originating chat", len(texts))
	}
	if !r.InProgress() {
		t.Error("InProgress must report true after trigger")
	}
}

func TestRestartSingleShot(t *testing.T) {
	chat := newFakeChat()
	exits := 0
	r := &Restarter{
		Registry: task.NewRegistry(),
		Chat:     chat,
		Grace:    time.Millisecond,
		Logger:   discardLogger(),
		Exit:     func(int) { exits++ },
	}
	r.Trigger("first", 0)
	r.Trigger("second", 0)
	if exits != 1 {
		t.Errorf("Exit called %d times, want 1", exits)
	}
}
