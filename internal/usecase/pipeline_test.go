package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/services/dialog"
	"medialeech/internal/services/download"
	"medialeech/internal/services/scanner"
	"medialeech/internal/services/tools"
	"medialeech/internal/services/upload"
	"medialeech/internal/task"
)

// fakeChat is an in-memory ports.Chat. Messages are pre-seeded for the
// scanner; downloads materialise small files named after the message.
type fakeChat struct {
	mu       sync.Mutex
	messages map[int64]ports.Message
	sent     []string
	uploads  []ports.Upload
	nextID   int64

	downloadDelay time.Duration
	started       chan int64
}

func newFakeChat() *fakeChat {
	return &fakeChat{
		messages: make(map[int64]ports.Message),
		nextID:   1000,
		started:  make(chan int64, 16),
	}
}

func (c *fakeChat) seed(msg ports.Message) {
	c.mu.Lock()
	c.messages[msg.Ref.MessageID] = msg
	c.mu.Unlock()
}

func (c *fakeChat) SendMessage(ctx context.Context, chatID int64, text string) (ports.MessageRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.sent = append(c.sent, text)
	return ports.MessageRef{ChatID: chatID, MessageID: c.nextID}, nil
}

func (c *fakeChat) SendButtons(ctx context.Context, chatID int64, text string, rows [][]ports.Button) (ports.MessageRef, error) {
	return c.SendMessage(ctx, chatID, text)
}

func (c *fakeChat) EditMessage(ctx context.Context, ref ports.MessageRef, text string) error {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	return nil
}

func (c *fakeChat) DeleteMessage(ctx context.Context, ref ports.MessageRef) error { return nil }

func (c *fakeChat) GetMessages(ctx context.Context, chatID int64, ids []int64) ([]ports.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ports.Message
	for _, id := range ids {
		if msg, ok := c.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (c *fakeChat) DownloadMedia(ctx context.Context, ref ports.MessageRef, destPath string, progress func(done, total int64)) (string, error) {
	select {
	case c.started <- ref.MessageID:
	default:
	}
	if c.downloadDelay > 0 {
		timer := time.NewTimer(c.downloadDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	content := fmt.Sprintf("media-%d", ref.MessageID)
	if err := os.WriteFile(destPath, []byte(content), 0o644); err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(content)), int64(len(content)))
	}
	return destPath, nil
}

func (c *fakeChat) UploadFile(ctx context.Context, up ports.Upload) (ports.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, up)
	c.nextID++
	return ports.Receipt{
		Ref:      ports.MessageRef{ChatID: up.ChatID, MessageID: c.nextID},
		FileName: up.FileName,
		FileHash: "h",
	}, nil
}

func (c *fakeChat) AnswerCallback(ctx context.Context, callbackID, text string) error { return nil }

func (c *fakeChat) Updates() <-chan ports.Event { return nil }

func (c *fakeChat) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// fakeRunner pretends every binary run succeeds and creates the ffmpeg
// output file so the upload stage has something to stat.
type fakeRunner struct {
	mu   sync.Mutex
	runs [][]string
}

func (r *fakeRunner) record(name string, args []string) {
	r.mu.Lock()
	r.runs = append(r.runs, append([]string{name}, args...))
	r.mu.Unlock()
}

func (r *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (ports.CmdResult, error) {
	r.record(name, args)
	return ports.CmdResult{}, nil
}

func (r *fakeRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (ports.CmdResult, error) {
	r.record(name, args)
	// The last argument of an ffmpeg/7z invocation is the output path.
	if len(args) > 0 {
		out := args[len(args)-1]
		if filepath.IsAbs(out) || filepath.Ext(out) != "" {
			_ = os.WriteFile(out, []byte("output"), 0o644)
		}
	}
	return ports.CmdResult{}, nil
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

type fakeProber struct{ info domain.MediaInfo }

func (p *fakeProber) Probe(ctx context.Context, input string) (domain.MediaInfo, error) {
	return p.info, nil
}

func newTestPipeline(t *testing.T, chat *fakeChat) (*Pipeline, *task.Registry, *fakeRunner) {
	t.Helper()
	logger := discardLogger()
	reg := task.NewRegistry()
	run := &fakeRunner{}
	store := newFakeStore()
	gate := newGate(store, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	p := &Pipeline{
		Registry: reg,
		Chat:     chat,
		Scanner:  &scanner.Scanner{Chat: chat, Logger: logger},
		Pool:     &download.Pool{Stagger: time.Millisecond, Logger: logger},
		Tools:    &tools.Service{Runner: run, Prober: &fakeProber{}, Logger: logger},
		Prober:   &fakeProber{},
		Uploader: upload.New(chat, logger),
		Dialogs:  dialog.NewManager(chat, logger),
		Quota:    gate,
		Store:    store,
		Runner:   run,
		Logger:   logger,
	}
	return p, reg, run
}

func mediaMsg(id, author int64, name string, size int64) ports.Message {
	return ports.Message{
		Ref:      ports.MessageRef{ChatID: 1, MessageID: id},
		AuthorID: author,
		Media:    &ports.Media{Class: domain.ClassVideo, Name: name, Size: size},
	}
}

// answerer feeds dialog answers as soon as prompts appear.
func answer(t *testing.T, p *Pipeline, owner int64, texts ...string) {
	t.Helper()
	go func() {
		for _, text := range texts {
			for i := 0; i < 200; i++ {
				if p.Dialogs.DeliverMessage(owner, text) {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
}

func TestLeechConcatEndToEnd(t *testing.T) {
	chat := newFakeChat()
	// Three user videos interleaved with bot replies.
	chat.seed(mediaMsg(100, 7, "a.mp4", 10))
	chat.seed(mediaMsg(101, 7, "b.mp4", 10))
	chat.seed(mediaMsg(102, 7, "c.mp4", 10))
	chat.seed(ports.Message{Ref: ports.MessageRef{ChatID: 1, MessageID: 103}, AuthorID: 99, Text: "ok"})

	p, reg, run := newTestPipeline(t, chat)
	tk := reg.Create(task.CreateParams{
		Kind: domain.KindLeech, Owner: 7, Chat: 1,
		OutputName: "out.mp4", RequestedCount: 3, TasksRoot: t.TempDir(),
	})
	answer(t, p, 7, "done")

	p.RunLeech(context.Background(), tk, 100, ConfigParams{Tool: domain.ToolConcat})

	if got := tk.Stage(); got != domain.StageCompleted {
		t.Fatalf("stage = %v, want Completed (err=%v)", got, tk.Err())
	}
	if run.count() != 1 {
		t.Errorf("ffmpeg invocations = %d, want 1 concat", run.count())
	}
	if len(chat.uploads) != 1 || chat.uploads[0].FileName != "out.mp4" {
		t.Errorf("uploads = %+v, want one out.mp4", chat.uploads)
	}
	if _, err := os.Stat(tk.WorkDir); !os.IsNotExist(err) {
		t.Errorf("work dir %s must be removed after completion", tk.WorkDir)
	}
	if _, ok := reg.Get(tk.ID); ok {
		t.Error("registry must not retain a completed task")
	}
}

func TestLeechFailsWhenNotEnoughInputs(t *testing.T) {
	chat := newFakeChat()
	chat.seed(mediaMsg(100, 7, "a.mp4", 10))

	p, reg, _ := newTestPipeline(t, chat)
	tk := reg.Create(task.CreateParams{
		Kind: domain.KindLeech, Owner: 7, Chat: 1,
		OutputName: "out.mp4", RequestedCount: 3, TasksRoot: t.TempDir(),
	})
	p.RunLeech(context.Background(), tk, 100, ConfigParams{Tool: domain.ToolConcat})

	if got := tk.Stage(); got != domain.StageFailed {
		t.Fatalf("stage = %v, want Failed", got)
	}
	if _, err := os.Stat(tk.WorkDir); !os.IsNotExist(err) {
		t.Error("work dir must be removed after failure")
	}
}

func TestCancelMidDownload(t *testing.T) {
	chat := newFakeChat()
	for id := int64(100); id < 105; id++ {
		chat.seed(mediaMsg(id, 7, fmt.Sprintf("f%d.mp4", id), 10))
	}
	chat.downloadDelay = 5 * time.Second

	p, reg, run := newTestPipeline(t, chat)
	p.Pool.Stagger = 50 * time.Millisecond
	tk := reg.Create(task.CreateParams{
		Kind: domain.KindLeech, Owner: 7, Chat: 1,
		OutputName: "out.mp4", RequestedCount: 5, TasksRoot: t.TempDir(),
	})
	answer(t, p, 7, "done")

	finished := make(chan struct{})
	go func() {
		p.RunLeech(context.Background(), tk, 100, ConfigParams{Tool: domain.ToolConcat})
		close(finished)
	}()

	// Wait for the second download to start, then cancel.
	<-chat.started
	<-chat.started
	tk.Cancel()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not unwind the task within 2s")
	}
	if got := tk.Stage(); got != domain.StageCancelled {
		t.Fatalf("stage = %v, want Cancelled", got)
	}
	if run.count() != 0 {
		t.Errorf("ffmpeg ran %d times after cancel, want 0", run.count())
	}
	if _, err := os.Stat(tk.WorkDir); !os.IsNotExist(err) {
		t.Error("work dir must be removed after cancellation")
	}
	found := false
	for _, text := range chat.sentTexts() {
		if text == fmt.Sprintf("Task %s cancelled.", tk.ID) {
			found = true
		}
	}
	if !found {
		t.Error("user never saw the cancellation confirmation")
	}
}

func TestDownloadOrderPreserved(t *testing.T) {
	chat := newFakeChat()
	chat.seed(mediaMsg(100, 7, "a.mp4", 10))
	chat.seed(mediaMsg(101, 7, "b.mp4", 10))
	chat.seed(mediaMsg(102, 7, "c.mp4", 10))

	p, reg, _ := newTestPipeline(t, chat)
	tk := reg.Create(task.CreateParams{
		Kind: domain.KindLeech, Owner: 7, Chat: 1,
		OutputName: "out.mp4", RequestedCount: 3, TasksRoot: t.TempDir(),
	})
	answer(t, p, 7, "done")
	p.RunLeech(context.Background(), tk, 100, ConfigParams{Tool: domain.ToolConcat})

	if len(tk.Downloaded) != 3 {
		t.Fatalf("downloaded = %d, want 3", len(tk.Downloaded))
	}
	for i, d := range tk.Downloaded {
		if d.Index != i {
			t.Errorf("downloaded[%d].Index = %d, order must match inputs", i, d.Index)
		}
		want := fmt.Sprintf("%03d_", i)
		if filepath.Base(d.Path)[:4] != want {
			t.Errorf("downloaded[%d] = %s, want %s prefix", i, filepath.Base(d.Path), want)
		}
	}
}

func TestMediaInfoRendersTracks(t *testing.T) {
	info := domain.MediaInfo{
		Format:   "matroska",
		Duration: 90,
		Size:     1 << 20,
		Tracks: []domain.MediaTrack{
			{Index: 0, Type: "video", Codec: "h264"},
			{Index: 1, Type: "audio", Codec: "aac", Language: "eng", Bitrate: 128000},
		},
	}
	out := renderMediaInfo("movie.mkv", info)
	for _, want := range []string{"movie.mkv", "matroska", "h264", "aac", "[eng]", "128 kbps"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
