// Package scanner collects consecutive media messages from a chat. Chats
// interleave bot replies with user files, so a contiguous read starting at
// the anchor would miss inputs; the scanner reads a sliding window instead.
package scanner

import (
	"context"
	"log/slog"

	"medialeech/internal/domain/ports"
)

const (
	windowFactor  = 4
	maxIterations = 5
)

type Scanner struct {
	Chat   ports.Chat
	Logger *slog.Logger
}

// Collect returns up to need media-bearing messages authored by userID with
// ids >= anchor, in message-id order. A shorter list means the chat ran out
// of matching messages within the scan budget.
func (s *Scanner) Collect(ctx context.Context, chatID, anchor, userID int64, need int) ([]ports.Message, error) {
	if need <= 0 {
		return nil, nil
	}
	window := int64(windowFactor * need)
	seen := make(map[int64]bool)
	collected := make([]ports.Message, 0, need)
	cursor := anchor

	for iter := 0; iter < maxIterations && len(collected) < need; iter++ {
		ids := make([]int64, 0, window)
		for id := cursor; id < cursor+window; id++ {
			ids = append(ids, id)
		}
		msgs, err := s.Chat.GetMessages(ctx, chatID, ids)
		if err != nil {
			return nil, err
		}
		for _, m := range msgs {
			if len(collected) == need {
				break
			}
			if m.AuthorID != userID || m.Media == nil || seen[m.Ref.MessageID] {
				continue
			}
			seen[m.Ref.MessageID] = true
			collected = append(collected, m)
		}
		cursor += window
	}

	s.Logger.Debug("scanner: collection finished",
		slog.Int64("chat", chatID),
		slog.Int64("anchor", anchor),
		slog.Int("need", need),
		slog.Int("found", len(collected)),
	)
	return collected, nil
}
