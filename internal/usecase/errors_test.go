package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"medialeech/internal/services/dialog"
	"medialeech/internal/services/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClassifyPassthrough(t *testing.T) {
	for _, sentinel := range []error{
		ErrUserInput, ErrQuota, ErrTransient, ErrMediaFormat, ErrCancelled, ErrFatal,
	} {
		wrapped := fmt.Errorf("%w: detail", sentinel)
		if got := Classify(wrapped, false); !errors.Is(got, sentinel) {
			t.Errorf("Classify(%v) lost its class: %v", sentinel, got)
		}
	}
}

func TestClassifyContextCancelled(t *testing.T) {
	got := Classify(context.Canceled, true)
	if !errors.Is(got, ErrCancelled) {
		t.Errorf("cancel-requested context.Canceled should classify as Cancelled, got %v", got)
	}
	got = Classify(context.Canceled, false)
	if !errors.Is(got, ErrFatal) {
		t.Errorf("unexpected context.Canceled should classify as Fatal, got %v", got)
	}
}

func TestClassifyDialogErrors(t *testing.T) {
	if got := Classify(dialog.ErrTimeout, false); !errors.Is(got, ErrUserInput) {
		t.Errorf("dialog timeout should classify as UserInput, got %v", got)
	}
	if got := Classify(dialog.ErrCancelled, false); !errors.Is(got, ErrCancelled) {
		t.Errorf("dialog cancel should classify as Cancelled, got %v", got)
	}
}

func TestClassifyExecError(t *testing.T) {
	execErr := &tools.ExecError{Binary: "ffmpeg", ExitCode: 1, Tail: "Invalid data found"}
	got := Classify(execErr, false)
	if !errors.Is(got, ErrMediaFormat) {
		t.Errorf("ExecError should classify as MediaFormat, got %v", got)
	}
}

func TestUserMessageExecErrorCodeBlock(t *testing.T) {
	execErr := &tools.ExecError{Binary: "ffmpeg", ExitCode: 1, Tail: "moov atom not found"}
	msg := UserMessage("abc123", Classify(execErr, false))
	if !strings.Contains(msg, "```") || !strings.Contains(msg, "moov atom not found") {
		t.Errorf("exec failure should render stderr in a code block, got %q", msg)
	}
}

func TestUserMessageCancelled(t *testing.T) {
	msg := UserMessage("abc123", fmt.Errorf("%w: user asked", ErrCancelled))
	if msg != "Task abc123 cancelled." {
		t.Errorf("UserMessage = %q", msg)
	}
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return errors.New("boom")
	})
	if calls != 3 {
		t.Errorf("retry ran %d times, want 3", calls)
	}
	if !errors.Is(err, ErrTransient) {
		t.Errorf("exhausted retry should classify as Transient, got %v", err)
	}
}

func TestRetrySucceedsSecondTry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Errorf("retry = %v after %d calls, want nil after 2", err, calls)
	}
}
