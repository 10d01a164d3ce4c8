package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medialeech/internal/services/dialog"
	"medialeech/internal/services/tools"
)

// Error taxonomy. No raw error types leak to users: every failure is
// classified into one of these sentinels and rendered by UserMessage.
var (
	ErrUserInput   = errors.New("bad user input")
	ErrQuota       = errors.New("daily quota exceeded")
	ErrTransient   = errors.New("transient failure")
	ErrMediaFormat = errors.New("media processing failed")
	ErrCancelled   = errors.New("task cancelled")
	ErrFatal       = errors.New("internal error")
)

// Classify maps an arbitrary pipeline error onto the taxonomy. Context
// cancellation counts as Cancelled only when the task's cancel signal caused
// it; the caller passes that knowledge via cancelRequested.
func Classify(err error, cancelRequested bool) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserInput),
		errors.Is(err, ErrQuota),
		errors.Is(err, ErrTransient),
		errors.Is(err, ErrMediaFormat),
		errors.Is(err, ErrCancelled),
		errors.Is(err, ErrFatal):
		return err
	case cancelRequested && (errors.Is(err, context.Canceled) || errors.Is(err, dialog.ErrCancelled)):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, dialog.ErrCancelled):
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	case errors.Is(err, dialog.ErrTimeout):
		return fmt.Errorf("%w: no answer in time", ErrUserInput)
	case isExecError(err):
		return fmt.Errorf("%w: %v", ErrMediaFormat, err)
	default:
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
}

func isExecError(err error) bool {
	var execErr *tools.ExecError
	return errors.As(err, &execErr)
}

// UserMessage renders a classified error for the chat. ffmpeg/yt-dlp stderr
// excerpts go into a code block; everything else is one short line.
func UserMessage(taskID string, err error) string {
	var execErr *tools.ExecError
	switch {
	case errors.Is(err, ErrCancelled):
		return fmt.Sprintf("Task %s cancelled.", taskID)
	case errors.Is(err, ErrQuota):
		return err.Error()
	case errors.Is(err, ErrUserInput):
		return fmt.Sprintf("Task %s failed: %v", taskID, err)
	case errors.As(err, &execErr):
		return fmt.Sprintf("Task %s failed.\n```\n%s\n```", taskID, execErr.Tail)
	case errors.Is(err, ErrMediaFormat):
		return fmt.Sprintf("Task %s failed: media could not be processed.", taskID)
	default:
		return fmt.Sprintf("Task %s failed: internal error.", taskID)
	}
}

// retry runs fn up to attempts times, backing off between tries. Only used
// on single-shot paths; multi-strategy fetchers advance instead of retrying.
func retry(ctx context.Context, attempts int, delay time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if i < attempts-1 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
