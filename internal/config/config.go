// Package config loads the single immutable Config value once at process
// start; cmd/ hands the relevant fields to each component's constructor
// (§9 "Global mutable state → explicit config object"). Job payloads do
// not carry a config snapshot.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// BeatEffectType is one of the frame-indexed beat-reactive filters (§4.6).
type BeatEffectType string

const (
	BeatEffectFlash      BeatEffectType = "flash"
	BeatEffectColorBurst BeatEffectType = "color_burst"
	BeatEffectZoomPulse  BeatEffectType = "zoom_pulse"
	BeatEffectGlitch     BeatEffectType = "glitch"
)

type Config struct {
	// Server
	Environment        string // namespaces the clip-generation queue per deployment
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string
	CorsAllowedOrigins string

	// Database / Queue
	DatabaseURL string
	RedisURL    string

	// Blob storage
	StorageURL        string
	StorageServiceKey string
	StorageBucket     string

	// Worker / concurrency (§5, §6)
	WorkerConcurrencyPerSong int // C, default 4
	NormalizeWorkerPoolSize  int // bounded pool inside composition (default 4)

	// Composition targets (§6)
	TargetWidth        int
	TargetHeight       int
	TargetFPS          int
	CRF                int
	Preset             string
	MaxSongDurationSec float64 // hard cap for composition, default 300
	MaxExtendSec       float64 // max_extend, default 3

	// Beat alignment / clip bounds (§4.2)
	MinClipSec   float64
	MaxClipSec   float64
	MinSectionSec float64 // default 8, relaxed to 5 for songs under 60s

	// Beat effects (§4.6)
	BeatEffectEnabled             bool
	BeatEffectType                BeatEffectType
	BeatAlignedTransitionsEnabled bool

	// External collaborators (§1, §6) — swappable black boxes
	VideoGenEndpoint         string
	VideoGenAPIKey           string
	VideoGenTimeoutSec       int // per-generation wall clock, default 900 (15 min)
	StructureServiceEndpoint string // optional section-inference service
	StructureServiceAPIKey   string
	TranscriptionAPIKey      string // optional lyrics transcription (Whisper)

	// Retry policy (§6)
	MaxAttempts        int
	InitialBackoffSec  float64
	BackoffMultiplier  float64

	// Timeouts (§5)
	CompositionOverallTimeoutMin int // 30
	EncoderSubprocessTimeoutMin  int // 10

	// Observability
	LogLevel   string
	Production bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		APIPort:            getEnv("API_PORT", "8080"),
		WorkerEnabled:      getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:      getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),

		StorageURL:        getEnv("STORAGE_URL", ""),
		StorageServiceKey: getEnv("STORAGE_SERVICE_KEY", ""),
		StorageBucket:     getEnv("STORAGE_BUCKET", "music-videos"),

		WorkerConcurrencyPerSong: getEnvInt("WORKER_CONCURRENCY_PER_SONG", 4),
		NormalizeWorkerPoolSize:  getEnvInt("NORMALIZE_WORKER_POOL_SIZE", 4),

		TargetWidth:        getEnvInt("TARGET_WIDTH", 1920),
		TargetHeight:       getEnvInt("TARGET_HEIGHT", 1080),
		TargetFPS:          getEnvInt("TARGET_FPS", 24),
		CRF:                getEnvInt("CRF", 23),
		Preset:             getEnv("ENCODER_PRESET", "medium"),
		MaxSongDurationSec: getEnvFloat("MAX_SONG_DURATION_SEC", 300),
		MaxExtendSec:       getEnvFloat("MAX_EXTEND_SEC", 3),

		MinClipSec:    getEnvFloat("MIN_CLIP_SEC", 3.0),
		MaxClipSec:    getEnvFloat("MAX_CLIP_SEC", 6.0),
		MinSectionSec: getEnvFloat("MIN_SECTION_SEC", 8.0),

		BeatEffectEnabled:             getEnvBool("BEAT_EFFECT_ENABLED", false),
		BeatEffectType:                BeatEffectType(getEnv("BEAT_EFFECT_TYPE", string(BeatEffectFlash))),
		BeatAlignedTransitionsEnabled: getEnvBool("BEAT_ALIGNED_TRANSITIONS_ENABLED", false),

		VideoGenEndpoint:         getEnv("VIDEOGEN_ENDPOINT", ""),
		VideoGenAPIKey:           getEnv("VIDEOGEN_API_KEY", ""),
		VideoGenTimeoutSec:       getEnvInt("VIDEOGEN_TIMEOUT_SEC", 900),
		StructureServiceEndpoint: getEnv("STRUCTURE_SERVICE_ENDPOINT", ""),
		StructureServiceAPIKey:   getEnv("STRUCTURE_SERVICE_API_KEY", ""),
		TranscriptionAPIKey:      getEnv("OPENAI_API_KEY", ""),

		MaxAttempts:       getEnvInt("MAX_ATTEMPTS", 3),
		InitialBackoffSec: getEnvFloat("INITIAL_BACKOFF_SEC", 2),
		BackoffMultiplier: getEnvFloat("BACKOFF_MULTIPLIER", 2),

		CompositionOverallTimeoutMin: getEnvInt("COMPOSITION_OVERALL_TIMEOUT_MIN", 30),
		EncoderSubprocessTimeoutMin:  getEnvInt("ENCODER_SUBPROCESS_TIMEOUT_MIN", 10),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		Production: getEnvBool("PRODUCTION", false),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.StorageURL == "" || cfg.StorageServiceKey == "" {
		return nil, fmt.Errorf("STORAGE_URL and STORAGE_SERVICE_KEY are required")
	}
	if cfg.VideoGenEndpoint == "" || cfg.VideoGenAPIKey == "" {
		return nil, fmt.Errorf("VIDEOGEN_ENDPOINT and VIDEOGEN_API_KEY are required")
	}
	switch cfg.BeatEffectType {
	case BeatEffectFlash, BeatEffectColorBurst, BeatEffectZoomPulse, BeatEffectGlitch:
	default:
		return nil, fmt.Errorf("invalid BEAT_EFFECT_TYPE %q", cfg.BeatEffectType)
	}
	if cfg.MinClipSec <= 0 || cfg.MaxClipSec < cfg.MinClipSec {
		return nil, fmt.Errorf("invalid clip duration bounds [%.1f, %.1f]", cfg.MinClipSec, cfg.MaxClipSec)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}
