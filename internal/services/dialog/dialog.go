// Package dialog runs the per-task question/answer exchange: free-form
// text prompts with timeouts and closed option sets as inline buttons.
package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"medialeech/internal/domain/ports"
)

// Callback data prefixes. The router strips nothing; sessions receive the
// full data string and match on these.
const (
	PrefixTool          = "leech_tool_"
	PrefixAudioMode     = "leech_amode_"
	PrefixSubtitleMode  = "leech_smode_"
	PrefixCompressMode  = "leech_cmode_"
	PrefixWatermarkMode = "leech_wmode_"
	PrefixWatermarkPos  = "leech_wpos_"
	PrefixAudioFormat   = "leech_afmt_"
	DataDone            = "leech_done"
	DataCancel          = "leech_cancel"
)

// ErrTimeout means the user never answered within the prompt window.
var ErrTimeout = errors.New("dialog timed out")

// ErrCancelled means the user pressed the cancel button.
var ErrCancelled = errors.New("dialog cancelled")

const (
	DefaultTextTimeout   = 90 * time.Second
	DefaultButtonTimeout = 5 * time.Minute
)

type answer struct {
	text       string
	data       string
	callbackID string
}

// Session is one task's live dialogue. Answers are delivered by the router
// through the owning Manager.
type Session struct {
	TaskID string
	Owner  int64
	ChatID int64

	chat    ports.Chat
	logger  *slog.Logger
	answers chan answer
}

// Manager routes inbound events to the session owned by the sender.
type Manager struct {
	Chat   ports.Chat
	Logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*Session // by owner user id
}

func NewManager(chat ports.Chat, logger *slog.Logger) *Manager {
	return &Manager{Chat: chat, Logger: logger, sessions: make(map[int64]*Session)}
}

// Open starts a dialogue for the task. A user has at most one live session;
// opening replaces any stale one.
func (m *Manager) Open(taskID string, owner, chatID int64) *Session {
	s := &Session{
		TaskID:  taskID,
		Owner:   owner,
		ChatID:  chatID,
		chat:    m.Chat,
		logger:  m.Logger,
		answers: make(chan answer, 4),
	}
	m.mu.Lock()
	m.sessions[owner] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Close(s *Session) {
	m.mu.Lock()
	if m.sessions[s.Owner] == s {
		delete(m.sessions, s.Owner)
	}
	m.mu.Unlock()
}

// DeliverMessage hands a plain text message to the sender's session.
// Returns false when no session is waiting.
func (m *Manager) DeliverMessage(owner int64, text string) bool {
	m.mu.Lock()
	s := m.sessions[owner]
	m.mu.Unlock()
	if s == nil {
		return false
	}
	select {
	case s.answers <- answer{text: text}:
		return true
	default:
		return false
	}
}

// DeliverCallback hands a button press to the presser's session.
func (m *Manager) DeliverCallback(cb ports.Callback) bool {
	m.mu.Lock()
	s := m.sessions[cb.UserID]
	m.mu.Unlock()
	if s == nil {
		return false
	}
	select {
	case s.answers <- answer{data: cb.Data, callbackID: cb.ID}:
		return true
	default:
		return false
	}
}

// AskText prompts for free-form text. "/skip" yields an empty string with
// no error.
func (s *Session) AskText(ctx context.Context, prompt string, timeout time.Duration) (string, error) {
	if _, err := s.chat.SendMessage(ctx, s.ChatID, prompt); err != nil {
		return "", err
	}
	for {
		ans, err := s.wait(ctx, timeout)
		if err != nil {
			return "", err
		}
		if ans.data != "" {
			// A stray button press during a text prompt is ignored.
			s.ack(ctx, ans.callbackID, "")
			continue
		}
		text := strings.TrimSpace(ans.text)
		if strings.EqualFold(text, "/skip") {
			return "", nil
		}
		return text, nil
	}
}

// AskButtons presents the option rows and returns the pressed button's
// data. Text messages during a button prompt are ignored.
func (s *Session) AskButtons(ctx context.Context, prompt string, rows [][]ports.Button, timeout time.Duration) (string, error) {
	if _, err := s.chat.SendButtons(ctx, s.ChatID, prompt, rows); err != nil {
		return "", err
	}
	for {
		ans, err := s.wait(ctx, timeout)
		if err != nil {
			return "", err
		}
		if ans.data == "" {
			continue
		}
		s.ack(ctx, ans.callbackID, "")
		if ans.data == DataCancel {
			return "", ErrCancelled
		}
		return ans.data, nil
	}
}

func (s *Session) wait(ctx context.Context, timeout time.Duration) (answer, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ans := <-s.answers:
		return ans, nil
	case <-timer.C:
		return answer{}, ErrTimeout
	case <-ctx.Done():
		return answer{}, ctx.Err()
	}
}

func (s *Session) ack(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := s.chat.AnswerCallback(ctx, callbackID, text); err != nil {
		s.logger.Debug("dialog: callback ack failed",
			slog.String("task", s.TaskID),
			slog.Any("error", err),
		)
	}
}

// Notify sends a one-way status line into the dialogue chat.
func (s *Session) Notify(ctx context.Context, text string) {
	if _, err := s.chat.SendMessage(ctx, s.ChatID, text); err != nil {
		s.logger.Debug("dialog: notify failed",
			slog.String("task", s.TaskID),
			slog.Any("error", err),
		)
	}
}
