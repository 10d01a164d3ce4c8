// Package usecase drives tasks through their lifecycle: collect inputs,
// gather configuration, download, process, upload, clean up. One goroutine
// owns each task end to end; the cancellation path only sets the signal and
// lets the owning goroutine unwind.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
	"medialeech/internal/metrics"
	"medialeech/internal/services/dialog"
	"medialeech/internal/services/download"
	"medialeech/internal/services/fetch"
	"medialeech/internal/services/runner"
	"medialeech/internal/services/scanner"
	"medialeech/internal/services/tools"
	"medialeech/internal/services/torrent"
	"medialeech/internal/services/upload"
	"medialeech/internal/task"
)

const (
	torrentPollInterval = 5 * time.Second
	torrentAddTimeout   = 30 * time.Second
	tweetNameTimeout    = 180 * time.Second
	uploadRetries       = 3
)

// Pipeline wires every stage service together. All fields are required
// unless noted.
type Pipeline struct {
	Registry *task.Registry
	Chat     ports.Chat
	Scanner  *scanner.Scanner
	Pool     *download.Pool
	Tools    *tools.Service
	Prober   ports.Prober
	Fetcher  *fetch.Fetcher
	Uploader *upload.Uploader
	Dialogs  *dialog.Manager
	Quota    *QuotaGate
	Store    ports.UserStore
	Torrent  ports.TorrentClient // optional; nil disables /qbl
	Runner   ports.Runner
	Logger   *slog.Logger

	BaseURL        string
	TwitterAPIBase string

	// OnTransition, when set, is called after every observable task change
	// (stage moves and progress notes). The websocket hub subscribes here.
	OnTransition func()
}

func (p *Pipeline) notifyTransition() {
	if p.OnTransition != nil {
		p.OnTransition()
	}
}

// advance moves the task to the next stage, recording the transition.
func (p *Pipeline) advance(t *task.Task, next domain.Stage) error {
	if err := t.SetStage(next); err != nil {
		return err
	}
	metrics.StageTransitionsTotal.WithLabelValues(next.String()).Inc()
	p.Logger.Debug("task: stage",
		slog.String("task", t.ID),
		slog.String("stage", next.String()),
	)
	p.notifyTransition()
	return nil
}

// begin creates the scratch dir and anchors a status message in the chat.
func (p *Pipeline) begin(ctx context.Context, t *task.Task) error {
	if err := t.EnsureWorkDir(); err != nil {
		return fmt.Errorf("%w: creating work dir: %v", ErrFatal, err)
	}
	metrics.TasksStartedTotal.WithLabelValues(string(t.Kind)).Inc()
	metrics.ActiveTasks.Set(float64(p.Registry.Active()))
	ref, err := p.Chat.SendMessage(ctx, t.Chat,
		fmt.Sprintf("Task %s started.\nCancel with /cancel %s", t.ID, t.ID))
	if err == nil {
		t.StatusMsg = ref
	}
	return nil
}

// finish performs the terminal transition: classify, notify, wipe, remove.
// Every Run* method defers it; the registry never retains terminal tasks.
func (p *Pipeline) finish(t *task.Task, err error) {
	classified := Classify(err, t.CancelRequested())
	outcome := "completed"
	switch {
	case classified == nil:
	case errors.Is(classified, ErrCancelled):
		_ = p.advance(t, domain.StageCancelling)
		outcome = "cancelled"
	default:
		outcome = "failed"
	}

	// The scratch dir goes before the terminal transition: once a task is
	// observed terminal its work_dir must be gone.
	if rmErr := t.RemoveWorkDir(); rmErr != nil {
		p.Logger.Warn("task: work dir cleanup failed",
			slog.String("task", t.ID),
			slog.Any("error", rmErr),
		)
	}

	switch outcome {
	case "completed":
		_ = p.advance(t, domain.StageCompleted)
	case "cancelled":
		_ = p.advance(t, domain.StageCancelled)
	case "failed":
		t.SetError(classified)
		_ = p.advance(t, domain.StageFailed)
	}

	p.Registry.Remove(t.ID)
	metrics.TasksFinishedTotal.WithLabelValues(string(t.Kind), outcome).Inc()
	metrics.ActiveTasks.Set(float64(p.Registry.Active()))
	p.notifyTransition()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	switch outcome {
	case "completed":
		p.editStatus(ctx, t, fmt.Sprintf("Task %s completed.", t.ID))
	default:
		p.editStatus(ctx, t, UserMessage(t.ID, classified))
	}

	p.Logger.Info("task: finished",
		slog.String("task", t.ID),
		slog.String("kind", string(t.Kind)),
		slog.String("outcome", outcome),
		slog.Duration("elapsed", time.Since(t.CreatedAt)),
	)
}

// editStatus updates the progress anchor, falling back to a fresh message.
func (p *Pipeline) editStatus(ctx context.Context, t *task.Task, text string) {
	if t.StatusMsg.MessageID != 0 {
		if err := p.Chat.EditMessage(ctx, t.StatusMsg, text); err == nil {
			return
		}
	}
	if _, err := p.Chat.SendMessage(ctx, t.Chat, text); err != nil {
		p.Logger.Debug("task: status send failed",
			slog.String("task", t.ID),
			slog.Any("error", err),
		)
	}
}

// checkCancel surfaces the task's cancel signal as an error.
func checkCancel(t *task.Task) error {
	if t.CancelRequested() {
		return ErrCancelled
	}
	return nil
}

// RunLeech executes the batch command: scan N messages, configure a tool,
// download, process, upload. anchor is the replied-to first file.
func (p *Pipeline) RunLeech(parent context.Context, t *task.Task, anchor int64, params ConfigParams) {
	ctx, cancel := t.Bind(parent)
	defer cancel()

	err := p.runLeech(ctx, t, anchor, params)
	p.finish(t, err)
}

func (p *Pipeline) runLeech(ctx context.Context, t *task.Task, anchor int64, params ConfigParams) error {
	if err := p.begin(ctx, t); err != nil {
		return err
	}

	// Collect the inputs first so configuration can fail fast on an
	// impossible batch.
	msgs, err := p.Scanner.Collect(ctx, t.Chat, anchor, t.Owner, t.RequestedCount)
	if err != nil {
		return fmt.Errorf("%w: scanning chat: %v", ErrTransient, err)
	}
	if len(msgs) < t.RequestedCount {
		return fmt.Errorf("%w: found %d media messages, need %d",
			ErrUserInput, len(msgs), t.RequestedCount)
	}
	for i, m := range msgs {
		t.Inputs = append(t.Inputs, domain.InputRef{
			Index:     i,
			MessageID: m.Ref.MessageID,
			Name:      m.Media.Name,
			Size:      m.Media.Size,
		})
	}

	for _, in := range t.Inputs {
		if err := p.Quota.Admit(ctx, t.Owner, in.Size); err != nil {
			return err
		}
	}

	if err := p.advance(t, domain.StageConfiguring); err != nil {
		return err
	}
	session := p.Dialogs.Open(t.ID, t.Owner, t.Chat)
	defer p.Dialogs.Close(session)

	cfg, err := Configure(ctx, session, params)
	if err != nil {
		return err
	}
	t.Config = cfg

	if err := p.advance(t, domain.StageWaitingDone); err != nil {
		return err
	}
	if err := ConfirmDone(ctx, session); err != nil {
		return err
	}

	if err := p.downloadInputs(ctx, t); err != nil {
		return err
	}
	outputs, err := p.process(ctx, t)
	if err != nil {
		return err
	}
	return p.uploadOutputs(ctx, t, outputs)
}

// downloadInputs runs stage D over the task's platform-message inputs.
func (p *Pipeline) downloadInputs(ctx context.Context, t *task.Task) error {
	if err := checkCancel(t); err != nil {
		return err
	}
	if err := p.advance(t, domain.StageDownloading); err != nil {
		return err
	}
	downloaded, err := p.Pool.Run(ctx, t.Inputs, t.WorkDir, func(ctx context.Context, in domain.InputRef, dest string) error {
		_, err := p.Chat.DownloadMedia(ctx, ports.MessageRef{ChatID: t.Chat, MessageID: in.MessageID}, dest,
			func(done, total int64) {
				t.SetNote(fmt.Sprintf("Downloading %d/%d: %s of %s",
					in.Index+1, len(t.Inputs), domain.HumanBytes(done), domain.HumanBytes(total)))
			})
		if err == nil {
			if info, serr := os.Stat(dest); serr == nil {
				metrics.DownloadBytesTotal.Add(float64(info.Size()))
			}
		}
		return err
	})
	if err != nil {
		if t.CancelRequested() {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	t.Downloaded = downloaded
	return nil
}

// process runs stage F and returns the produced files.
func (p *Pipeline) process(ctx context.Context, t *task.Task) ([]string, error) {
	if err := checkCancel(t); err != nil {
		return nil, err
	}
	if err := p.advance(t, domain.StageProcessing); err != nil {
		return nil, err
	}
	job := &tools.Job{
		TaskID:     t.ID,
		WorkDir:    t.WorkDir,
		OutputName: t.OutputName,
		Config:     t.Config,
	}
	for _, d := range t.Downloaded {
		job.Inputs = append(job.Inputs, tools.Input{
			Index: d.Index,
			Path:  d.Path,
			Class: domain.ClassifyName(d.Path),
		})
	}
	err := p.Tools.Process(ctx, job, func(note string) {
		t.SetNote(note)
		p.notifyTransition()
	})
	if err != nil {
		if t.CancelRequested() {
			return nil, ErrCancelled
		}
		return nil, err
	}
	t.OutputName = job.OutputName
	return job.Outputs, nil
}

// uploadOutputs runs stage H over the produced files in order.
func (p *Pipeline) uploadOutputs(ctx context.Context, t *task.Task, outputs []string) error {
	if err := checkCancel(t); err != nil {
		return err
	}
	if err := p.advance(t, domain.StageUploading); err != nil {
		return err
	}
	// Each task gets its own uploader so status callbacks never cross
	// between concurrent tasks.
	up := upload.New(p.Uploader.Chat, p.Uploader.Logger)
	up.MaxBytes = p.Uploader.MaxBytes
	up.StatusEdit = func(text string) {
		t.SetNote(text)
		p.editStatus(ctx, t, fmt.Sprintf("Task %s\n%s", t.ID, text))
	}

	var total int64
	for _, out := range outputs {
		if err := checkCancel(t); err != nil {
			return err
		}
		info, err := os.Stat(out)
		if err != nil {
			return fmt.Errorf("%w: output missing: %v", ErrFatal, err)
		}
		name := filepath.Base(out)
		caption := fmt.Sprintf("%s\nSize: %s", name, domain.HumanBytes(info.Size()))
		if footer := p.footer(ctx, t.Owner); footer != "" {
			caption += "\n\n" + footer
		}

		var receipts []ports.Receipt
		err = retry(ctx, uploadRetries, 2*time.Second, func() error {
			var uerr error
			receipts, uerr = up.Send(ctx, upload.Request{
				ChatID:   t.Chat,
				Path:     out,
				FileName: name,
				Caption:  caption,
			})
			return uerr
		})
		if err != nil {
			if t.CancelRequested() {
				return ErrCancelled
			}
			return err
		}
		p.attachLinks(ctx, t, receipts)
		total += info.Size()
	}
	if err := p.Quota.Commit(ctx, t.Owner, total, int64(len(outputs))); err != nil {
		p.Logger.Warn("task: usage accounting failed",
			slog.String("task", t.ID),
			slog.Any("error", err),
		)
	}
	return nil
}

// attachLinks adds stream/download buttons under single-file uploads.
// Split uploads carry no links: the parts are only useful reassembled.
func (p *Pipeline) attachLinks(ctx context.Context, t *task.Task, receipts []ports.Receipt) {
	if p.BaseURL == "" || len(receipts) != 1 {
		return
	}
	rec := receipts[0]
	if rec.FileHash == "" {
		return
	}
	name := url.PathEscape(rec.FileName)
	rows := [][]ports.Button{{
		{Label: "Stream", URL: fmt.Sprintf("%s/watch/%d/%s?hash=%s", p.BaseURL, rec.Ref.MessageID, name, rec.FileHash)},
		{Label: "Download", URL: fmt.Sprintf("%s/%d/%s?hash=%s", p.BaseURL, rec.Ref.MessageID, name, rec.FileHash)},
	}}
	if _, err := p.Chat.SendButtons(ctx, t.Chat, rec.FileName, rows); err != nil {
		p.Logger.Debug("task: link buttons failed",
			slog.String("task", t.ID),
			slog.Any("error", err),
		)
	}
}

func (p *Pipeline) footer(ctx context.Context, userID int64) string {
	rec, err := p.Store.Get(ctx, userID)
	if err != nil {
		return ""
	}
	return rec.Footer
}

// RunURL executes /jl and /upload: resolve the URL into files and upload
// them. direct skips the extractor chain.
func (p *Pipeline) RunURL(parent context.Context, t *task.Task, rawURL string, direct bool) {
	ctx, cancel := t.Bind(parent)
	defer cancel()
	p.finish(t, p.runURL(ctx, t, rawURL, direct))
}

func (p *Pipeline) runURL(ctx context.Context, t *task.Task, rawURL string, direct bool) error {
	if err := p.begin(ctx, t); err != nil {
		return err
	}

	// Admission uses the advertised remote size when the server reports
	// one; unknown sizes are admitted and settled on commit.
	if size, err := p.Fetcher.Head(ctx, rawURL); err == nil && size > 0 {
		if err := p.Quota.Admit(ctx, t.Owner, size); err != nil {
			return err
		}
	} else if err := p.Quota.Admit(ctx, t.Owner, 0); err != nil {
		return err
	}

	if err := p.advance(t, domain.StageDownloading); err != nil {
		return err
	}
	progress := func(done, total int64) {
		t.SetNote(fmt.Sprintf("Downloading: %s of %s",
			domain.HumanBytes(done), domain.HumanBytes(total)))
	}

	var results []fetch.Result
	var err error
	if direct {
		var res fetch.Result
		res, err = p.Fetcher.Direct(ctx, rawURL, t.WorkDir, progress)
		if err == nil {
			results = []fetch.Result{res}
		}
	} else {
		results, err = p.Fetcher.Fetch(ctx, rawURL, t.WorkDir, progress)
	}
	if err != nil {
		if t.CancelRequested() {
			return ErrCancelled
		}
		if errors.Is(err, fetch.ErrNoMedia) {
			return fmt.Errorf("%w: no downloadable media at that URL", ErrUserInput)
		}
		return fmt.Errorf("%w: %v", ErrMediaFormat, err)
	}

	paths := make([]string, 0, len(results))
	for _, res := range results {
		paths = append(paths, res.Path)
	}
	return p.uploadOutputs(ctx, t, paths)
}

// RunTwitter resolves a tweet into its media items and uploads each one.
func (p *Pipeline) RunTwitter(parent context.Context, t *task.Task, tweetURL string) {
	ctx, cancel := t.Bind(parent)
	defer cancel()
	p.finish(t, p.runTwitter(ctx, t, tweetURL))
}

func (p *Pipeline) runTwitter(ctx context.Context, t *task.Task, tweetURL string) error {
	if p.TwitterAPIBase == "" {
		return fmt.Errorf("%w: tweet downloads are not configured", ErrUserInput)
	}
	tweetID := fetch.TweetID(tweetURL)
	if tweetID == "" {
		return fmt.Errorf("%w: that does not look like a tweet URL", ErrUserInput)
	}
	if err := p.begin(ctx, t); err != nil {
		return err
	}
	if err := p.Quota.Admit(ctx, t.Owner, 0); err != nil {
		return err
	}

	items, err := p.Fetcher.TweetMediaList(ctx, p.TwitterAPIBase, tweetID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: tweet has no media", ErrUserInput)
	}

	if err := p.advance(t, domain.StageConfiguring); err != nil {
		return err
	}
	session := p.Dialogs.Open(t.ID, t.Owner, t.Chat)
	defer p.Dialogs.Close(session)

	names := make([]string, len(items))
	for i := range items {
		prompt := fmt.Sprintf("Filename for media %d/%d (or /skip):", i+1, len(items))
		name, err := session.AskText(ctx, prompt, tweetNameTimeout)
		if err != nil {
			return err
		}
		names[i] = name
	}

	if err := p.advance(t, domain.StageDownloading); err != nil {
		return err
	}
	var paths []string
	for i, item := range items {
		if err := checkCancel(t); err != nil {
			return err
		}
		res, _, err := p.Fetcher.DownloadTweetMedia(ctx, item, t.WorkDir, names[i], func(done, total int64) {
			t.SetNote(fmt.Sprintf("Downloading media %d/%d", i+1, len(items)))
		})
		if err != nil {
			return fmt.Errorf("%w: media %d: %v", ErrMediaFormat, i+1, err)
		}
		paths = append(paths, res.Path)
	}
	return p.uploadOutputs(ctx, t, paths)
}

// RunTorrent submits a magnet or a replied .torrent file (seeded as the
// task's single input) to the daemon, polls it to completion and uploads
// the produced files.
func (p *Pipeline) RunTorrent(parent context.Context, t *task.Task, magnet string) {
	ctx, cancel := t.Bind(parent)
	defer cancel()
	p.finish(t, p.runTorrent(ctx, t, magnet))
}

func (p *Pipeline) runTorrent(ctx context.Context, t *task.Task, magnet string) error {
	if p.Torrent == nil {
		return fmt.Errorf("%w: torrent support is not configured", ErrUserInput)
	}
	if magnet == "" && len(t.Inputs) == 0 {
		return fmt.Errorf("%w: send a magnet link or reply to a .torrent file", ErrUserInput)
	}
	if err := p.begin(ctx, t); err != nil {
		return err
	}
	if err := p.Quota.Admit(ctx, t.Owner, 0); err != nil {
		return err
	}
	if err := p.advance(t, domain.StageDownloading); err != nil {
		return err
	}

	var torrentPath string
	if magnet == "" {
		in := t.Inputs[0]
		torrentPath = filepath.Join(t.WorkDir, "job.torrent")
		if _, err := p.Chat.DownloadMedia(ctx, ports.MessageRef{ChatID: t.Chat, MessageID: in.MessageID}, torrentPath, nil); err != nil {
			if t.CancelRequested() {
				return ErrCancelled
			}
			return fmt.Errorf("%w: fetching the .torrent: %v", ErrTransient, err)
		}
	}

	addCtx, cancel := context.WithTimeout(ctx, torrentAddTimeout)
	defer cancel()
	var err error
	if magnet != "" {
		err = p.Torrent.AddMagnet(addCtx, magnet, t.WorkDir)
	} else {
		err = p.Torrent.AddFile(addCtx, torrentPath, t.WorkDir)
	}
	if err != nil {
		return fmt.Errorf("%w: torrent daemon rejected the job: %v", ErrTransient, err)
	}

	status, err := p.waitTorrent(ctx, t)
	if err != nil {
		return err
	}
	defer func() {
		delCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if derr := p.Torrent.Delete(delCtx, status.Hash, false); derr != nil {
			p.Logger.Debug("task: torrent delete failed",
				slog.String("task", t.ID),
				slog.Any("error", derr),
			)
		}
	}()

	paths, err := collectFiles(status.ContentPath)
	if err != nil || len(paths) == 0 {
		return fmt.Errorf("%w: torrent produced no files", ErrMediaFormat)
	}
	for _, path := range paths {
		if info, serr := os.Stat(path); serr == nil {
			if err := p.Quota.Admit(ctx, t.Owner, info.Size()); err != nil {
				return err
			}
		}
	}
	return p.uploadOutputs(ctx, t, paths)
}

// waitTorrent polls the daemon until the newest torrent reaches a terminal
// state. The hash is discovered from the most recent entry because the add
// endpoint does not return one.
func (p *Pipeline) waitTorrent(ctx context.Context, t *task.Task) (ports.TorrentStatus, error) {
	var hash string
	ticker := time.NewTicker(torrentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if hash != "" {
				delCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				_ = p.Torrent.Delete(delCtx, hash, true)
				cancel()
			}
			if t.CancelRequested() {
				return ports.TorrentStatus{}, ErrCancelled
			}
			return ports.TorrentStatus{}, ctx.Err()
		case <-ticker.C:
		}

		var status ports.TorrentStatus
		var err error
		if hash == "" {
			recent, rerr := p.Torrent.Recent(ctx, 1)
			if rerr != nil || len(recent) == 0 {
				continue
			}
			status = recent[0]
			hash = status.Hash
		} else {
			status, err = p.Torrent.Info(ctx, hash)
			if err != nil {
				continue
			}
		}

		t.SetNote(fmt.Sprintf("Torrent %s: %.1f%% (%s/s)",
			status.State, status.Progress*100, domain.HumanBytes(status.DownloadSpeed)))
		p.notifyTransition()

		if torrent.Failed(status.State) {
			return status, fmt.Errorf("%w: torrent entered state %q", ErrMediaFormat, status.State)
		}
		if torrent.Done(status.State, status.Progress) {
			return status, nil
		}
	}
}

// RunZip downloads the collected inputs and archives them with 7z.
func (p *Pipeline) RunZip(parent context.Context, t *task.Task) {
	ctx, cancel := t.Bind(parent)
	defer cancel()
	p.finish(t, p.runZip(ctx, t))
}

func (p *Pipeline) runZip(ctx context.Context, t *task.Task) error {
	if err := p.begin(ctx, t); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		if err := p.Quota.Admit(ctx, t.Owner, in.Size); err != nil {
			return err
		}
	}
	if err := p.downloadInputs(ctx, t); err != nil {
		return err
	}
	if err := p.advance(t, domain.StageProcessing); err != nil {
		return err
	}

	archiveName := t.OutputName
	if !strings.HasSuffix(archiveName, ".zip") {
		archiveName = strings.TrimSuffix(archiveName, filepath.Ext(archiveName)) + ".zip"
	}
	archive := filepath.Join(t.WorkDir, archiveName)
	args := []string{"a", "-tzip", "-mx=0", archive}
	for _, d := range t.Downloaded {
		args = append(args, d.Path)
	}
	t.SetNote("Archiving...")
	res, err := p.Runner.Stream(ctx, nil, "7z", args...)
	if err != nil {
		if t.CancelRequested() {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	if res.ExitCode != 0 {
		return &tools.ExecError{Binary: "7z", ExitCode: res.ExitCode, Tail: runner.Tail(res.Stderr, 1000)}
	}
	return p.uploadOutputs(ctx, t, []string{archive})
}

// RunUnzip extracts a replied archive or URL and uploads the contents.
func (p *Pipeline) RunUnzip(parent context.Context, t *task.Task, archiveURL string) {
	ctx, cancel := t.Bind(parent)
	defer cancel()
	p.finish(t, p.runUnzip(ctx, t, archiveURL))
}

func (p *Pipeline) runUnzip(ctx context.Context, t *task.Task, archiveURL string) error {
	if err := p.begin(ctx, t); err != nil {
		return err
	}
	for _, in := range t.Inputs {
		if err := p.Quota.Admit(ctx, t.Owner, in.Size); err != nil {
			return err
		}
	}

	var archive string
	if archiveURL != "" {
		if err := p.advance(t, domain.StageDownloading); err != nil {
			return err
		}
		res, err := p.Fetcher.Direct(ctx, archiveURL, t.WorkDir, nil)
		if err != nil {
			if t.CancelRequested() {
				return ErrCancelled
			}
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		archive = res.Path
	} else {
		if err := p.downloadInputs(ctx, t); err != nil {
			return err
		}
		archive = t.Downloaded[0].Path
	}

	if err := p.advance(t, domain.StageProcessing); err != nil {
		return err
	}
	extractDir := filepath.Join(t.WorkDir, "extracted")
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	t.SetNote("Extracting...")
	res, err := p.Runner.Stream(ctx, nil, "7z", "x", "-y", "-o"+extractDir, archive)
	if err != nil {
		if t.CancelRequested() {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %v", ErrFatal, err)
	}
	if res.ExitCode != 0 {
		return &tools.ExecError{Binary: "7z", ExitCode: res.ExitCode, Tail: runner.Tail(res.Stderr, 1000)}
	}

	paths, err := collectFiles(extractDir)
	if err != nil || len(paths) == 0 {
		return fmt.Errorf("%w: archive was empty", ErrUserInput)
	}
	return p.uploadOutputs(ctx, t, paths)
}

// RunMediaInfo probes a downloaded reply or a URL and renders a track
// summary. Probe-only tasks skip the upload stage.
func (p *Pipeline) RunMediaInfo(parent context.Context, t *task.Task, probeURL string) {
	ctx, cancel := t.Bind(parent)
	defer cancel()
	p.finish(t, p.runMediaInfo(ctx, t, probeURL))
}

func (p *Pipeline) runMediaInfo(ctx context.Context, t *task.Task, probeURL string) error {
	if err := p.begin(ctx, t); err != nil {
		return err
	}

	target := probeURL
	if target == "" {
		if err := p.downloadInputs(ctx, t); err != nil {
			return err
		}
		target = t.Downloaded[0].Path
	}

	if err := p.advance(t, domain.StageProcessing); err != nil {
		return err
	}
	info, err := p.Prober.Probe(ctx, target)
	if err != nil {
		if t.CancelRequested() {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %v", ErrMediaFormat, err)
	}
	p.editStatus(ctx, t, renderMediaInfo(filepath.Base(target), info))
	// Keep the report visible: detach the status anchor before finish
	// overwrites it.
	t.StatusMsg = ports.MessageRef{}
	return nil
}

func renderMediaInfo(name string, info domain.MediaInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", name)
	if info.Format != "" {
		fmt.Fprintf(&b, "Format: %s\n", info.Format)
	}
	if info.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", (time.Duration(info.Duration)*time.Second).String())
	}
	if info.Size > 0 {
		fmt.Fprintf(&b, "Size: %s\n", domain.HumanBytes(info.Size))
	}
	for _, track := range info.Tracks {
		fmt.Fprintf(&b, "#%d %s %s", track.Index, track.Type, track.Codec)
		if track.Language != "" {
			fmt.Fprintf(&b, " [%s]", track.Language)
		}
		if track.Bitrate > 0 {
			fmt.Fprintf(&b, " %d kbps", track.Bitrate/1000)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// collectFiles walks root and returns every regular file, sorted by path so
// multi-file uploads have a stable order.
func collectFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}
	var paths []string
	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}
