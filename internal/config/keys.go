package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string // secret store account for secret keys
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FACEWATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "video.url", typ: kString, env: "FACEWATCH_VIDEO_URL",
		apply:   func(cfg *Config, v any) { cfg.Video.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Video.URL },
	},
	{
		key: "video.ffmpeg_path", typ: kString, env: "FACEWATCH_VIDEO_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Video.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Video.FFmpegPath },
	},
	{
		key: "video.open_retries", typ: kInt, env: "FACEWATCH_VIDEO_OPEN_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Video.OpenRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Video.OpenRetries },
	},
	{
		key: "video.read_timeout", typ: kDuration, env: "FACEWATCH_VIDEO_READ_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Video.ReadTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Video.ReadTimeout },
	},
	{
		key: "video.reconnect_delay", typ: kDuration, env: "FACEWATCH_VIDEO_RECONNECT_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Video.ReconnectDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Video.ReconnectDelay },
	},
	{
		key: "video.reconnect_max_delay", typ: kDuration, env: "FACEWATCH_VIDEO_RECONNECT_MAX_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Video.ReconnectMaxDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Video.ReconnectMaxDelay },
	},
	{
		key: "video.frame_skip", typ: kInt, env: "FACEWATCH_VIDEO_FRAME_SKIP",
		apply:   func(cfg *Config, v any) { cfg.Video.FrameSkip = v.(int) },
		extract: func(cfg Config) any { return cfg.Video.FrameSkip },
	},
	{
		key: "video.frame_interval", typ: kDuration, env: "FACEWATCH_VIDEO_FRAME_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Video.FrameInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Video.FrameInterval },
	},
	{
		key: "detector.base_url", typ: kString, env: "FACEWATCH_DETECTOR_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Detector.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Detector.BaseURL },
	},
	{
		key: "detector.scale", typ: kFloat, env: "FACEWATCH_DETECTOR_SCALE",
		apply:   func(cfg *Config, v any) { cfg.Detector.Scale = v.(float64) },
		extract: func(cfg Config) any { return cfg.Detector.Scale },
	},
	{
		key: "detector.timeout", typ: kDuration, env: "FACEWATCH_DETECTOR_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Detector.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Detector.Timeout },
	},
	{
		key: "match.threshold", typ: kFloat, env: "FACEWATCH_MATCH_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Match.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Match.Threshold },
	},
	{
		key: "alert.cooldown", typ: kDuration, env: "FACEWATCH_ALERT_COOLDOWN",
		apply:   func(cfg *Config, v any) { cfg.Alert.Cooldown = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Alert.Cooldown },
	},
	{
		key: "alert.retention_factor", typ: kInt, env: "FACEWATCH_ALERT_RETENTION_FACTOR",
		apply:   func(cfg *Config, v any) { cfg.Alert.RetentionFactor = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.RetentionFactor },
	},
	{
		key: "alert.location", typ: kString, env: "FACEWATCH_ALERT_LOCATION",
		apply:   func(cfg *Config, v any) { cfg.Alert.Location = v.(string) },
		extract: func(cfg Config) any { return cfg.Alert.Location },
	},
	{
		key: "alert.log_size", typ: kInt, env: "FACEWATCH_ALERT_LOG_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Alert.LogSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.LogSize },
	},
	{
		key: "alert.capacity", typ: kInt, env: "FACEWATCH_ALERT_CAPACITY",
		apply:   func(cfg *Config, v any) { cfg.Alert.Capacity = v.(int) },
		extract: func(cfg Config) any { return cfg.Alert.Capacity },
	},
	{
		key: "alert.annotate", typ: kBool, env: "FACEWATCH_ALERT_ANNOTATE",
		apply:   func(cfg *Config, v any) { cfg.Alert.Annotate = v.(bool) },
		extract: func(cfg Config) any { return cfg.Alert.Annotate },
	},
	{
		key: "evidence.dir", typ: kString, env: "FACEWATCH_EVIDENCE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Evidence.Dir },
	},
	{
		key: "evidence.workers", typ: kInt, env: "FACEWATCH_EVIDENCE_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Evidence.Workers },
	},
	{
		key: "evidence.queue", typ: kInt, env: "FACEWATCH_EVIDENCE_QUEUE",
		apply:   func(cfg *Config, v any) { cfg.Evidence.Queue = v.(int) },
		extract: func(cfg Config) any { return cfg.Evidence.Queue },
	},
	{
		key: "speech.backend", typ: kString, env: "FACEWATCH_SPEECH_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Speech.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Backend },
	},
	{
		key: "speech.lang", typ: kString, env: "FACEWATCH_SPEECH_LANG",
		apply:   func(cfg *Config, v any) { cfg.Speech.Lang = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Lang },
	},
	{
		key: "speech.template", typ: kString, env: "FACEWATCH_SPEECH_TEMPLATE",
		apply:   func(cfg *Config, v any) { cfg.Speech.Template = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Template },
	},
	{
		key: "speech.voice", typ: kString, env: "FACEWATCH_SPEECH_VOICE",
		apply:   func(cfg *Config, v any) { cfg.Speech.Voice = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.Voice },
	},
	{
		key: "speech.base_url", typ: kString, env: "FACEWATCH_SPEECH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Speech.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.BaseURL },
	},
	{
		key: "speech.rate_per_minute", typ: kInt, env: "FACEWATCH_SPEECH_RATE_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.Speech.RatePerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.Speech.RatePerMinute },
	},
	{
		key: "speech.api_key", typ: kString, env: "FACEWATCH_SPEECH_API_KEY",
		secret: true, account: "speech_api_key",
		apply:   func(cfg *Config, v any) { cfg.Speech.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Speech.APIKey },
	},
	{
		key: "gallery.path", typ: kString, env: "FACEWATCH_GALLERY_PATH",
		apply:   func(cfg *Config, v any) { cfg.Gallery.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.Gallery.Path },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FACEWATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "FACEWATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// parseValue converts raw into the Go type for typ.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return nil, fmt.Errorf("unknown key type %d", typ)
	}
}

func (t keyType) String() string {
	switch t {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typ, s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typ, s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
