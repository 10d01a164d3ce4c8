package domain

// ToolTag is the short tag selecting a processing recipe.
type ToolTag string

const (
	ToolConcat       ToolTag = "vt"  // video+video concat
	ToolMux          ToolTag = "va"  // video+audio mux
	ToolAudioConcat  ToolTag = "aa"  // audio+audio concat
	ToolSubtitle     ToolTag = "vs"  // video+subtitle
	ToolCompress     ToolTag = "cv"  // compress video
	ToolWatermark    ToolTag = "wv"  // watermark video
	ToolTrim         ToolTag = "tv"  // keep [start,end]
	ToolCut          ToolTag = "cut" // remove [start,end]
	ToolExtractAudio ToolTag = "rv"  // strip video
	ToolExtractVideo ToolTag = "ev"  // strip audio
)

// AllTools lists every recipe tag in menu order.
var AllTools = []ToolTag{
	ToolConcat, ToolMux, ToolAudioConcat, ToolSubtitle, ToolCompress,
	ToolWatermark, ToolTrim, ToolCut, ToolExtractAudio, ToolExtractVideo,
}

// ToolConfig is the tagged union of per-recipe options. Exactly one concrete
// type exists per ToolTag; the dispatch table switches on the concrete type.
type ToolConfig interface {
	Tool() ToolTag
}

type ConcatConfig struct{}

func (ConcatConfig) Tool() ToolTag { return ToolConcat }

// MuxConfig controls video+audio muxing. When KeepOriginalAudio is set the
// source audio streams stay selectable alongside the uploaded ones.
type MuxConfig struct {
	KeepOriginalAudio bool
}

func (MuxConfig) Tool() ToolTag { return ToolMux }

type AudioConcatConfig struct{}

func (AudioConcatConfig) Tool() ToolTag { return ToolAudioConcat }

// SubtitleConfig selects burn-in of one track or soft-muxing of all tracks.
type SubtitleConfig struct {
	Burn       bool
	TrackIndex int // subtitle input index used for burn-in
}

func (SubtitleConfig) Tool() ToolTag { return ToolSubtitle }

type CompressMode int

const (
	CompressHighQuality CompressMode = iota + 1 // CRF 18
	CompressBalanced                            // CRF 23
	CompressSmall                               // CRF 28
	CompressTargetSize
	CompressCustomCRF
)

type CompressConfig struct {
	Mode        CompressMode
	CRF         int   // CompressCustomCRF only
	TargetBytes int64 // CompressTargetSize only
}

func (CompressConfig) Tool() ToolTag { return ToolCompress }

type WatermarkPosition string

const (
	PosTopLeft     WatermarkPosition = "top_left"
	PosTopRight    WatermarkPosition = "top_right"
	PosBottomLeft  WatermarkPosition = "bottom_left"
	PosBottomRight WatermarkPosition = "bottom_right"
	PosCenter      WatermarkPosition = "center"
)

type WatermarkAnimation string

const (
	AnimStatic    WatermarkAnimation = "static"
	AnimFadeIn    WatermarkAnimation = "fade_in"
	AnimFadeInOut WatermarkAnimation = "fade_in_out"
	AnimMoving    WatermarkAnimation = "moving"
	AnimBouncing  WatermarkAnimation = "bouncing"
	AnimFloating  WatermarkAnimation = "floating"
	AnimScrolling WatermarkAnimation = "scrolling"
	AnimPulsing   WatermarkAnimation = "pulsing"
)

// WatermarkConfig carries either Text or ImagePath, never both.
type WatermarkConfig struct {
	Text      string
	ImagePath string
	Position  WatermarkPosition
	Animation WatermarkAnimation
}

func (WatermarkConfig) Tool() ToolTag { return ToolWatermark }

// TrimConfig keeps the [Start,End] segment. Timestamps are HH:MM:SS.
type TrimConfig struct {
	Start string
	End   string
}

func (TrimConfig) Tool() ToolTag { return ToolTrim }

// CutConfig removes the [Start,End] segment and rejoins the remainder.
type CutConfig struct {
	Start string
	End   string
}

func (CutConfig) Tool() ToolTag { return ToolCut }

type AudioFormat string

const (
	AudioMP3  AudioFormat = "mp3"
	AudioAAC  AudioFormat = "aac"
	AudioWAV  AudioFormat = "wav"
	AudioCopy AudioFormat = "copy"
)

type ExtractAudioConfig struct {
	Format AudioFormat
}

func (ExtractAudioConfig) Tool() ToolTag { return ToolExtractAudio }

type ExtractVideoConfig struct{}

func (ExtractVideoConfig) Tool() ToolTag { return ToolExtractVideo }
