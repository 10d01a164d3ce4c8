package tools

import (
	"strings"
	"testing"

	"medialeech/internal/domain"
)

func join(args []string) string { return strings.Join(args, " ") }

func TestBuildConcatArgs(t *testing.T) {
	got := join(buildConcatArgs("/w/concat.txt", "/w/out.mp4"))
	want := "-y -f concat -safe 0 -i /w/concat.txt -c copy /w/out.mp4"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBuildMuxArgs(t *testing.T) {
	got := join(buildMuxArgs("/w/v.mp4", []string{"/w/a1.mp3", "/w/a2.aac"}, false, "/w/out.mkv"))
	want := "-y -i /w/v.mp4 -i /w/a1.mp3 -i /w/a2.aac -map 0:v -map 1:a -map 2:a -c copy /w/out.mkv"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}

	withOrig := join(buildMuxArgs("/w/v.mp4", []string{"/w/a1.mp3"}, true, "/w/out.mkv"))
	if !strings.Contains(withOrig, "-map 0:v -map 0:a? -map 1:a") {
		t.Errorf("keep-original mapping wrong: %q", withOrig)
	}
}

func TestSubtitlePathEscaping(t *testing.T) {
	got := escapeSubtitlePath(`C:\subs\movie.srt`)
	if got != `C\:/subs/movie.srt` {
		t.Errorf("escaped path = %q", got)
	}
	args := buildBurnSubtitleArgs("/w/v.mp4", "/w/s:x.srt", "/w/out.mp4")
	if !strings.Contains(join(args), `subtitles='/w/s\:x.srt'`) {
		t.Errorf("burn filter not escaped: %q", join(args))
	}
}

func TestBuildSoftSubtitleArgs(t *testing.T) {
	got := join(buildSoftSubtitleArgs("/w/v.mp4", []string{"/w/en.srt", "/w/de.srt"}, "/w/out.mkv"))
	want := "-y -i /w/v.mp4 -i /w/en.srt -i /w/de.srt -map 0 -map 1:s -map 2:s -c copy -c:s srt /w/out.mkv"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBuildTrimArgs(t *testing.T) {
	got := join(buildTrimArgs("/w/in.mp4", "00:00:10", "00:01:00", "/w/out.mp4"))
	want := "-y -i /w/in.mp4 -ss 00:00:10 -to 00:01:00 -c copy /w/out.mp4"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBuildCutPartArgs(t *testing.T) {
	a := join(buildCutPartAArgs("/w/in.mp4", "00:00:30", "/w/a.mp4"))
	if a != "-y -i /w/in.mp4 -to 00:00:30 -c copy /w/a.mp4" {
		t.Errorf("part A args = %q", a)
	}
	b := join(buildCutPartBArgs("/w/in.mp4", "00:01:00", "/w/b.mp4"))
	if b != "-y -i /w/in.mp4 -ss 00:01:00 -c copy /w/b.mp4" {
		t.Errorf("part B args = %q", b)
	}
}

func TestBuildExtractArgs(t *testing.T) {
	audio := join(buildExtractAudioArgs("/w/in.mp4", "libmp3lame", "/w/out.mp3"))
	if audio != "-y -i /w/in.mp4 -vn -c:a libmp3lame /w/out.mp3" {
		t.Errorf("extract audio args = %q", audio)
	}
	video := join(buildExtractVideoArgs("/w/in.mp4", "/w/out.mp4"))
	if video != "-y -i /w/in.mp4 -an -c:v copy /w/out.mp4" {
		t.Errorf("extract video args = %q", video)
	}
}

func TestTargetVideoKbps(t *testing.T) {
	// 50 MiB over 120s with 128 kbps audio.
	if got := targetVideoKbps(50*1024*1024, 120, 128000); got != 3367 {
		t.Errorf("kbps = %d, want 3367", got)
	}
	// Impossible target clamps to the floor.
	if got := targetVideoKbps(1024, 3600, 128000); got != minVideoKbps {
		t.Errorf("kbps = %d, want floor %d", got, minVideoKbps)
	}
	// Zero duration and zero audio bitrate take fallbacks.
	withFallbacks := targetVideoKbps(50*1024*1024, 0, 0)
	direct := targetVideoKbps(50*1024*1024, fallbackDuration, defaultAudioBitrate)
	if withFallbacks != direct {
		t.Errorf("fallbacks: got %d want %d", withFallbacks, direct)
	}
}

func TestBuildTargetSizeArgs(t *testing.T) {
	got := join(buildTargetSizeArgs("/w/in.mp4", 3367, "/w/out.mp4"))
	want := "-y -i /w/in.mp4 -c:v libx264 -b:v 3367k -preset medium -c:a aac -b:a 128k /w/out.mp4"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestBuildCRFArgs(t *testing.T) {
	got := join(buildCRFArgs("/w/in.mp4", 18, "medium", "/w/out.mp4"))
	want := "-y -i /w/in.mp4 -c:v libx264 -crf 18 -preset medium -c:a copy /w/out.mp4"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

func TestTextWatermarkFilter(t *testing.T) {
	static := buildTextWatermarkFilter(domain.WatermarkConfig{
		Text: "hello", Position: domain.PosTopLeft, Animation: domain.AnimStatic,
	}, 0)
	want := "drawtext=text='hello':fontsize=24:fontcolor=white@0.7:borderw=2:bordercolor=black@0.5:x=20:y=20"
	if static != want {
		t.Errorf("static filter = %q", static)
	}

	fadeIn := buildTextWatermarkFilter(domain.WatermarkConfig{
		Text: "x", Position: domain.PosCenter, Animation: domain.AnimFadeIn,
	}, 0)
	if !strings.Contains(fadeIn, "alpha='if(lt(t,2),t/2,1)'") {
		t.Errorf("fade-in alpha missing: %q", fadeIn)
	}

	fadeBoth := buildTextWatermarkFilter(domain.WatermarkConfig{
		Text: "x", Position: domain.PosBottomRight, Animation: domain.AnimFadeInOut,
	}, 120)
	if !strings.Contains(fadeBoth, "if(gt(t,120.00-2),(120.00-t)/2,1)") {
		t.Errorf("fade-in-out should embed the probed duration: %q", fadeBoth)
	}

	moving := buildTextWatermarkFilter(domain.WatermarkConfig{
		Text: "x", Animation: domain.AnimMoving,
	}, 0)
	if !strings.Contains(moving, "x='mod(t*50,w-tw)':y='mod(t*30,h-th)'") {
		t.Errorf("moving expression wrong: %q", moving)
	}

	quoted := buildTextWatermarkFilter(domain.WatermarkConfig{
		Text: "it's mine", Position: domain.PosTopLeft, Animation: domain.AnimStatic,
	}, 0)
	if !strings.Contains(quoted, `it\'s mine`) {
		t.Errorf("single quote not escaped: %q", quoted)
	}
}

func TestImageWatermarkFilter(t *testing.T) {
	static := buildImageWatermarkFilter(domain.WatermarkConfig{
		ImagePath: "/w/mark.png", Position: domain.PosBottomRight, Animation: domain.AnimStatic,
	})
	if !strings.HasPrefix(static, "[1:v]scale=iw*0.15:-1,format=rgba,colorchannelmixer=aa=0.7[wm]") {
		t.Errorf("scale chain wrong: %q", static)
	}
	if !strings.Contains(static, "overlay=W-w-20:H-h-20[out]") {
		t.Errorf("bottom-right overlay wrong: %q", static)
	}

	fade := buildImageWatermarkFilter(domain.WatermarkConfig{
		ImagePath: "/w/mark.png", Position: domain.PosTopLeft, Animation: domain.AnimFadeIn,
	})
	if !strings.Contains(fade, "fade=t=in:st=0:d=2:alpha=1") {
		t.Errorf("image fade missing: %q", fade)
	}

	// Pulsing overlay keeps a fixed-opacity mark.
	pulsing := buildImageWatermarkFilter(domain.WatermarkConfig{
		ImagePath: "/w/mark.png", Position: domain.PosCenter, Animation: domain.AnimPulsing,
	})
	if !strings.Contains(pulsing, "enable='1'") || strings.Contains(pulsing, "sin(") {
		t.Errorf("pulsing image overlay should be time-invariant: %q", pulsing)
	}
}

func TestWatermarkPositionFallback(t *testing.T) {
	got := buildTextWatermarkFilter(domain.WatermarkConfig{
		Text: "x", Position: domain.WatermarkPosition("nope"), Animation: domain.AnimStatic,
	}, 0)
	if !strings.Contains(got, "x=w-tw-20:y=h-th-20") {
		t.Errorf("unknown position should fall back to bottom-right: %q", got)
	}
}
