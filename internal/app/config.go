package app

import (
	"os"
	"strconv"
	"strings"
)

type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	MongoURI  string
	MongoDB   string
	RedisAddr string

	OwnerIDs    []int64
	BaseURL     string
	BinChannel  int64
	BridgeToken string

	TasksRoot    string
	DownloadRoot string

	StaggerSeconds int64
	Workers        int

	DefaultPlan  string
	PlanLimitsGB map[string]int64

	QBHost string
	QBPort int
	QBUser string
	QBPass string

	TwitterAPIBase string

	WatchdogIntervalSeconds int64
	WatchdogCPUThreshold    float64
	WatchdogRAMThreshold    float64
	IdleTimeoutSeconds      int64

	FFMPEGPath  string
	FFProbePath string
	YTDLPPath   string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),

		MongoURI:  getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:   getEnv("MONGO_DB", "medialeech"),
		RedisAddr: getEnv("REDIS_ADDR", ""),

		OwnerIDs:    getEnvInt64List("OWNER_IDS"),
		BaseURL:     strings.TrimRight(getEnv("BASE_URL", ""), "/"),
		BinChannel:  getEnvSignedInt64("BIN_CHANNEL", 0),
		BridgeToken: getEnv("BRIDGE_TOKEN", ""),

		TasksRoot:    getEnv("TASKS_ROOT", "tasks"),
		DownloadRoot: getEnv("DOWNLOAD_ROOT", "downloads"),

		StaggerSeconds: getEnvInt64("STAGGER_SECONDS", 5),
		Workers:        int(getEnvInt64("WORKERS", 4)),

		DefaultPlan:  getEnv("DEFAULT_PLAN", "free"),
		PlanLimitsGB: getEnvPlanLimits("PLAN_LIMITS_GB", map[string]int64{"free": 2, "silver": 10, "gold": 50}),

		QBHost: getEnv("QB_HOST", "localhost"),
		QBPort: int(getEnvInt64("QB_PORT", 8090)),
		QBUser: getEnv("QB_USER", "admin"),
		QBPass: getEnv("QB_PASS", ""),

		TwitterAPIBase: getEnv("TWITTER_API_BASE", ""),

		WatchdogIntervalSeconds: getEnvInt64("WATCHDOG_INTERVAL_SECONDS", 300),
		WatchdogCPUThreshold:    getEnvFloat("WATCHDOG_CPU_THRESHOLD", 90),
		WatchdogRAMThreshold:    getEnvFloat("WATCHDOG_RAM_THRESHOLD", 90),
		IdleTimeoutSeconds:      getEnvInt64("IDLE_TIMEOUT_SECONDS", 24*3600),

		FFMPEGPath:  getEnv("FFMPEG_PATH", "ffmpeg"),
		FFProbePath: getEnv("FFPROBE_PATH", "ffprobe"),
		YTDLPPath:   getEnv("YTDLP_PATH", "yt-dlp"),
	}
}

// IsOwner reports whether id is one of the configured bot owners.
func (c Config) IsOwner(id int64) bool {
	for _, owner := range c.OwnerIDs {
		if owner == id {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvSignedInt64 allows negative values; channel ids on the platform are
// negative.
func getEnvSignedInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

// getEnvInt64List parses a space-separated list of integers.
func getEnvInt64List(key string) []int64 {
	var out []int64
	for _, field := range strings.Fields(os.Getenv(key)) {
		parsed, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}

// getEnvPlanLimits parses "free:2 silver:10 gold:50" into tier -> GiB.
func getEnvPlanLimits(key string, fallback map[string]int64) map[string]int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	out := make(map[string]int64)
	for _, field := range strings.Fields(raw) {
		tier, limit, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		parsed, err := strconv.ParseInt(limit, 10, 64)
		if err != nil || parsed <= 0 {
			continue
		}
		out[strings.ToLower(tier)] = parsed
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
