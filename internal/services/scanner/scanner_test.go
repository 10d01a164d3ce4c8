package scanner

import (
	"context"
	"log/slog"
	"testing"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
)

type fakeChat struct {
	ports.Chat
	messages map[int64]ports.Message
	calls    int
}

func (f *fakeChat) GetMessages(_ context.Context, chatID int64, ids []int64) ([]ports.Message, error) {
	f.calls++
	var out []ports.Message
	for _, id := range ids {
		if m, ok := f.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func videoMsg(id, author int64) ports.Message {
	return ports.Message{
		Ref:      ports.MessageRef{ChatID: 1, MessageID: id},
		AuthorID: author,
		Media:    &ports.Media{Class: domain.ClassVideo, Name: "v.mp4"},
	}
}

func textMsg(id, author int64) ports.Message {
	return ports.Message{
		Ref:      ports.MessageRef{ChatID: 1, MessageID: id},
		AuthorID: author,
		Text:     "processing...",
	}
}

func newScanner(fc *fakeChat) *Scanner {
	return &Scanner{Chat: fc, Logger: slog.Default()}
}

// User files at 100,101,102 interleaved with bot replies at 103,104,105.
func TestCollectInterleaved(t *testing.T) {
	fc := &fakeChat{messages: map[int64]ports.Message{
		100: videoMsg(100, 42),
		101: videoMsg(101, 42),
		102: videoMsg(102, 42),
		103: textMsg(103, 7),
		104: textMsg(104, 7),
		105: textMsg(105, 7),
	}}
	got, err := newScanner(fc).Collect(context.Background(), 1, 100, 42, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("collected %d, want 3", len(got))
	}
	for i, want := range []int64{100, 101, 102} {
		if got[i].Ref.MessageID != want {
			t.Errorf("message %d: id = %d, want %d", i, got[i].Ref.MessageID, want)
		}
	}
}

func TestCollectSkipsOtherAuthorsAndNonMedia(t *testing.T) {
	fc := &fakeChat{messages: map[int64]ports.Message{
		10: videoMsg(10, 42),
		11: videoMsg(11, 99),  // other user
		12: textMsg(12, 42),   // no media
		13: videoMsg(13, 42),
	}}
	got, err := newScanner(fc).Collect(context.Background(), 1, 10, 42, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Ref.MessageID != 10 || got[1].Ref.MessageID != 13 {
		t.Fatalf("unexpected collection: %+v", got)
	}
}

func TestCollectBoundedIterations(t *testing.T) {
	fc := &fakeChat{messages: map[int64]ports.Message{100: videoMsg(100, 42)}}
	got, err := newScanner(fc).Collect(context.Background(), 1, 100, 42, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("collected %d, want the single available message", len(got))
	}
	if fc.calls != maxIterations {
		t.Fatalf("scan made %d window requests, want bounded at %d", fc.calls, maxIterations)
	}
}

func TestCollectZeroNeed(t *testing.T) {
	fc := &fakeChat{}
	got, err := newScanner(fc).Collect(context.Background(), 1, 100, 42, 0)
	if err != nil || got != nil {
		t.Fatalf("Collect(0) = %v, %v; want nil, nil", got, err)
	}
	if fc.calls != 0 {
		t.Fatal("no chat requests expected for zero need")
	}
}
