package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

type Config struct {
	Server   ServerConfig
	Video    VideoConfig
	Detector DetectorConfig
	Match    MatchConfig
	Alert    AlertConfig
	Evidence EvidenceConfig
	Speech   SpeechConfig
	Gallery  GalleryConfig
	Storage  StorageConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type VideoConfig struct {
	URL               string
	FFmpegPath        string
	OpenRetries       int
	ReadTimeout       time.Duration // longest wait for one frame before reconnecting
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	FrameSkip         int
	FrameInterval     time.Duration
}

type DetectorConfig struct {
	BaseURL string
	Scale   float64
	Timeout time.Duration
}

type MatchConfig struct {
	Threshold float64
}

type AlertConfig struct {
	Cooldown        time.Duration
	RetentionFactor int
	Location        string
	LogSize         int // alerts shown by list endpoints
	Capacity        int // alerts retained in memory
	Annotate        bool
}

type EvidenceConfig struct {
	Dir     string // empty means <data_dir>/evidence
	Workers int
	Queue   int
}

type SpeechConfig struct {
	Backend       string
	Lang          string
	Template      string
	Voice         string
	BaseURL       string
	RatePerMinute int
	APIKey        string
}

type GalleryConfig struct {
	Path string // empty means <data_dir>/face_database.json
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 5000,
		},
		Video: VideoConfig{
			FFmpegPath:        "ffmpeg",
			OpenRetries:       3,
			ReadTimeout:       10 * time.Second,
			ReconnectDelay:    time.Second,
			ReconnectMaxDelay: 5 * time.Second,
			FrameSkip:         2,
			FrameInterval:     50 * time.Millisecond,
		},
		Detector: DetectorConfig{
			BaseURL: "http://127.0.0.1:5001",
			Scale:   0.5,
			Timeout: 5 * time.Second,
		},
		Match: MatchConfig{
			Threshold: 0.6,
		},
		Alert: AlertConfig{
			Cooldown:        30 * time.Second,
			RetentionFactor: 10,
			Location:        "Камера 1",
			LogSize:         50,
			Capacity:        500,
			Annotate:        true,
		},
		Evidence: EvidenceConfig{
			Workers: 2,
			Queue:   32,
		},
		Speech: SpeechConfig{
			Backend:       "translate",
			Lang:          "ru",
			RatePerMinute: 30,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// EvidenceDir resolves the evidence directory.
func (c Config) EvidenceDir() string {
	if c.Evidence.Dir != "" {
		return c.Evidence.Dir
	}
	return filepath.Join(c.Storage.DataDir, "evidence")
}

// GalleryPath resolves the gallery file.
func (c Config) GalleryPath() string {
	if c.Gallery.Path != "" {
		return c.Gallery.Path
	}
	return filepath.Join(c.Storage.DataDir, "face_database.json")
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Match.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("match.threshold must be positive, got %v", c.Match.Threshold))
	}
	if c.Detector.Scale <= 0 || c.Detector.Scale > 1 {
		errs = append(errs, fmt.Errorf("detector.scale must be in (0,1], got %v", c.Detector.Scale))
	}
	if c.Alert.Cooldown <= 0 {
		errs = append(errs, fmt.Errorf("alert.cooldown must be positive, got %v", c.Alert.Cooldown))
	}
	if c.Video.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("video.read_timeout must be positive, got %v", c.Video.ReadTimeout))
	}
	if c.Video.ReconnectDelay < time.Second {
		errs = append(errs, fmt.Errorf("video.reconnect_delay must be at least 1s, got %v", c.Video.ReconnectDelay))
	}
	if c.Video.ReconnectMaxDelay < c.Video.ReconnectDelay {
		errs = append(errs, fmt.Errorf("video.reconnect_max_delay %v is below video.reconnect_delay %v", c.Video.ReconnectMaxDelay, c.Video.ReconnectDelay))
	}
	return errors.Join(errs...)
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/facewatch/config.json, then applies FACEWATCH_*
// environment overrides. Secrets come from the environment or, failing that,
// from $XDG_DATA_HOME/facewatch/secrets.json.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), fileSecrets{path: secretsFilePath()})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	return cfg, nil
}
