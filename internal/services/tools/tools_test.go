package tools

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medialeech/internal/domain"
	"medialeech/internal/domain/ports"
)

type fakeRunner struct {
	calls    [][]string
	exitCode int
	stderr   string
}

func (f *fakeRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (ports.CmdResult, error) {
	return f.Stream(ctx, nil, name, args...)
}

func (f *fakeRunner) Stream(ctx context.Context, onLine func(string), name string, args ...string) (ports.CmdResult, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	return ports.CmdResult{ExitCode: f.exitCode, Stderr: []byte(f.stderr)}, nil
}

type fakeProber struct {
	info domain.MediaInfo
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, input string) (domain.MediaInfo, error) {
	return f.info, f.err
}

func newService(r *fakeRunner, p *fakeProber) *Service {
	return &Service{Runner: r, Prober: p, Logger: slog.Default()}
}

func videoInput(idx int, path string) Input {
	return Input{Index: idx, Path: path, Class: domain.ClassVideo}
}

func TestProcessDispatchCoversEveryTool(t *testing.T) {
	configs := []domain.ToolConfig{
		domain.ConcatConfig{},
		domain.MuxConfig{},
		domain.AudioConcatConfig{},
		domain.SubtitleConfig{},
		domain.CompressConfig{Mode: domain.CompressBalanced},
		domain.WatermarkConfig{Text: "x"},
		domain.TrimConfig{Start: "00:00:01", End: "00:00:02"},
		domain.CutConfig{Start: "00:00:01", End: "00:00:02"},
		domain.ExtractAudioConfig{Format: domain.AudioMP3},
		domain.ExtractVideoConfig{},
	}
	if len(configs) != len(domain.AllTools) {
		t.Fatalf("dispatch test covers %d configs, menu has %d tools", len(configs), len(domain.AllTools))
	}
	seen := map[domain.ToolTag]bool{}
	for _, cfg := range configs {
		seen[cfg.Tool()] = true
		svc := newService(&fakeRunner{}, &fakeProber{})
		job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "out.mp4",
			Inputs: []Input{videoInput(0, "/w/000_in.mp4")}, Config: cfg}
		err := svc.Process(context.Background(), job, nil)
		// Some recipes reject this minimal input set; what matters here is
		// that no config falls through to the unsupported branch.
		if errors.Is(err, domain.ErrUnsupported) {
			t.Errorf("%s: dispatched to the unsupported branch", cfg.Tool())
		}
	}
	for _, tag := range domain.AllTools {
		if !seen[tag] {
			t.Errorf("no config exercises tool %s", tag)
		}
	}
}

func TestConcatVideosWritesListAndRuns(t *testing.T) {
	r := &fakeRunner{}
	svc := newService(r, &fakeProber{})
	dir := t.TempDir()
	job := &Job{TaskID: "abc123", WorkDir: dir, OutputName: "merged.mp4",
		Inputs: []Input{videoInput(0, filepath.Join(dir, "000_a.mp4")), videoInput(1, filepath.Join(dir, "001_b.mp4"))},
		Config: domain.ConcatConfig{}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	list, err := os.ReadFile(filepath.Join(dir, "concat.txt"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(list)), "\n")
	if len(lines) != 2 {
		t.Fatalf("list has %d lines, want 2", len(lines))
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "file '") || !strings.HasSuffix(l, "'") {
			t.Errorf("malformed list line %q", l)
		}
		if strings.Contains(l, "\\") {
			t.Errorf("list line has backslashes: %q", l)
		}
	}
	if len(r.calls) != 1 {
		t.Fatalf("%d ffmpeg calls, want 1", len(r.calls))
	}
	if len(job.Outputs) != 1 || filepath.Base(job.Outputs[0]) != "merged.mp4" {
		t.Errorf("outputs = %v", job.Outputs)
	}
}

func TestMuxForcesMKVAndValidatesInputs(t *testing.T) {
	r := &fakeRunner{}
	svc := newService(r, &fakeProber{})
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "movie.mp4",
		Inputs: []Input{
			videoInput(0, "/w/000_v.mp4"),
			{Index: 1, Path: "/w/001_track.mp3", Class: domain.ClassAudio},
		},
		Config: domain.MuxConfig{}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if job.OutputName != "movie.mkv" {
		t.Errorf("output name = %q, want mkv container", job.OutputName)
	}

	// Two videos is not a valid mux set.
	bad := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "x.mp4",
		Inputs: []Input{videoInput(0, "/w/a.mp4"), videoInput(1, "/w/b.mp4")},
		Config: domain.MuxConfig{}}
	if err := svc.Process(context.Background(), bad, nil); !errors.Is(err, ErrBadInputSet) {
		t.Errorf("err = %v, want ErrBadInputSet", err)
	}
	if len(r.calls) != 1 {
		t.Errorf("invalid set must fail before spawning ffmpeg, calls = %d", len(r.calls))
	}
}

func TestAudioConcatRejectsVideosAndSwapsExtension(t *testing.T) {
	svc := newService(&fakeRunner{}, &fakeProber{})
	withVideo := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "mix.mp4",
		Inputs: []Input{videoInput(0, "/w/clip.mp4")},
		Config: domain.AudioConcatConfig{}}
	if err := svc.Process(context.Background(), withVideo, nil); !errors.Is(err, ErrBadInputSet) {
		t.Fatalf("err = %v, want ErrBadInputSet", err)
	}

	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "mix.mp4",
		Inputs: []Input{
			{Index: 0, Path: "/w/000_a.mp3", Class: domain.ClassAudio},
			{Index: 1, Path: "/w/001_b.mp3", Class: domain.ClassAudio},
		},
		Config: domain.AudioConcatConfig{}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if job.OutputName != "mix.mp3" {
		t.Errorf("output name = %q, want .mp3", job.OutputName)
	}
}

func TestCutRunsThreeInvocationsAndCleansTemps(t *testing.T) {
	r := &fakeRunner{}
	svc := newService(r, &fakeProber{})
	dir := t.TempDir()
	job := &Job{TaskID: "abc123", WorkDir: dir, OutputName: "clip.mp4",
		Inputs: []Input{videoInput(0, filepath.Join(dir, "000_in.mp4"))},
		Config: domain.CutConfig{Start: "00:00:30", End: "00:01:00"}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 3 {
		t.Fatalf("%d ffmpeg calls, want 3 (partA, partB, concat)", len(r.calls))
	}
	if !contains(r.calls[0], "-to") || !contains(r.calls[1], "-ss") {
		t.Errorf("part invocations out of order: %v", r.calls[:2])
	}
	if !contains(r.calls[2], "concat") {
		t.Errorf("third invocation is not the concat: %v", r.calls[2])
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "cut_") {
			t.Errorf("temp file %s not removed", e.Name())
		}
	}
}

func TestPerInputNumbering(t *testing.T) {
	r := &fakeRunner{}
	svc := newService(r, &fakeProber{})
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "silent.mp4",
		Inputs: []Input{videoInput(0, "/w/a.mp4"), videoInput(1, "/w/b.mp4"), videoInput(2, "/w/c.mp4")},
		Config: domain.ExtractVideoConfig{}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if len(job.Outputs) != 3 {
		t.Fatalf("%d outputs, want 3", len(job.Outputs))
	}
	for i, want := range []string{"silent_1.mp4", "silent_2.mp4", "silent_3.mp4"} {
		if got := filepath.Base(job.Outputs[i]); got != want {
			t.Errorf("output %d = %q, want %q", i, got, want)
		}
	}

	single := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "silent.mp4",
		Inputs: []Input{videoInput(0, "/w/a.mp4")},
		Config: domain.ExtractVideoConfig{}}
	if err := svc.Process(context.Background(), single, nil); err != nil {
		t.Fatal(err)
	}
	if single.OutputName != "silent.mp4" {
		t.Errorf("single-input name = %q, want no suffix", single.OutputName)
	}
}

func TestCompressTargetSizeUsesProbe(t *testing.T) {
	r := &fakeRunner{}
	p := &fakeProber{info: domain.MediaInfo{
		Duration: 120,
		Tracks:   []domain.MediaTrack{{Type: "audio", Bitrate: 128000}},
	}}
	svc := newService(r, p)
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "small.mp4",
		Inputs: []Input{videoInput(0, "/w/in.mp4")},
		Config: domain.CompressConfig{Mode: domain.CompressTargetSize, TargetBytes: 50 * 1024 * 1024}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if !contains(r.calls[0], "3367k") {
		t.Errorf("target-size invocation missing computed bitrate: %v", r.calls[0])
	}
}

func TestCompressTargetSizeFallsBackWhenProbeFails(t *testing.T) {
	r := &fakeRunner{}
	p := &fakeProber{err: errors.New("unreadable")}
	svc := newService(r, p)
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "small.mp4",
		Inputs: []Input{videoInput(0, "/w/in.mp4")},
		Config: domain.CompressConfig{Mode: domain.CompressTargetSize, TargetBytes: 50 * 1024 * 1024}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	if !contains(r.calls[0], "-crf") || !contains(r.calls[0], "23") {
		t.Errorf("probe failure should fall back to balanced CRF: %v", r.calls[0])
	}
}

func TestWatermarkImageArgs(t *testing.T) {
	r := &fakeRunner{}
	svc := newService(r, &fakeProber{})
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "marked.mp4",
		Inputs: []Input{videoInput(0, "/w/in.mp4")},
		Config: domain.WatermarkConfig{ImagePath: "/w/logo.png", Position: domain.PosTopRight, Animation: domain.AnimStatic}}
	if err := svc.Process(context.Background(), job, nil); err != nil {
		t.Fatal(err)
	}
	call := r.calls[0]
	if !contains(call, "/w/logo.png") || !contains(call, "-filter_complex") {
		t.Errorf("image watermark invocation wrong: %v", call)
	}
	if !contains(call, "[out]") || !contains(call, "0:a?") {
		t.Errorf("stream mapping missing: %v", call)
	}
}

func TestWatermarkRequiresTextOrImage(t *testing.T) {
	svc := newService(&fakeRunner{}, &fakeProber{})
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "x.mp4",
		Inputs: []Input{videoInput(0, "/w/in.mp4")},
		Config: domain.WatermarkConfig{}}
	if err := svc.Process(context.Background(), job, nil); !errors.Is(err, ErrBadInputSet) {
		t.Errorf("err = %v, want ErrBadInputSet", err)
	}
}

func TestNonZeroExitBecomesExecError(t *testing.T) {
	r := &fakeRunner{exitCode: 1, stderr: "header line\nInvalid data found when processing input"}
	svc := newService(r, &fakeProber{})
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "x.mp4",
		Inputs: []Input{videoInput(0, "/w/in.mp4")},
		Config: domain.TrimConfig{Start: "00:00:01", End: "00:00:02"}}
	err := svc.Process(context.Background(), job, nil)
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v, want *ExecError", err)
	}
	if execErr.ExitCode != 1 || !strings.Contains(execErr.Tail, "Invalid data") {
		t.Errorf("exec error = %+v", execErr)
	}
}

func TestCancelledContextStopsBeforeSpawn(t *testing.T) {
	r := &fakeRunner{}
	svc := newService(r, &fakeProber{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := &Job{TaskID: "abc123", WorkDir: t.TempDir(), OutputName: "x.mp4",
		Inputs: []Input{videoInput(0, "/w/in.mp4")},
		Config: domain.ExtractVideoConfig{}}
	if err := svc.Process(ctx, job, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("ffmpeg spawned after cancellation: %v", r.calls)
	}
}

func contains(call []string, want string) bool {
	for _, a := range call {
		if strings.Contains(a, want) {
			return true
		}
	}
	return false
}
