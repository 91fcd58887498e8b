// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration. Secrets are not stored here; they are
// resolved through the secret package using the *Param names.
type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	DevMode  bool   `env:"DEV_MODE" envDefault:"false"`

	ListenAddr  string `env:"LISTEN_ADDR" envDefault:":8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	RedirectURL string `env:"GOOGLE_REDIRECT_URL" envDefault:"http://localhost:8080/oauth-callback"`

	// Storage backend for the token and settings: "file", "dynamodb" or "memory".
	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"file"`
	StateDir       string `env:"STATE_DIR" envDefault:".soapnote"`
	KVTable        string `env:"KV_TABLE" envDefault:"SoapnoteState"`
	RunLockTable   string `env:"RUN_LOCK_TABLE" envDefault:"SoapnoteRunLocks"`

	// Sealing of the refresh token at rest: "kms", "local" or "plain".
	Sealer      string `env:"TOKEN_SEALER" envDefault:"local"`
	KMSKeyID    string `env:"KMS_KEY_ID" envDefault:"alias/soapnote-token-key"`
	SealKeyFile string `env:"SEAL_KEY_FILE" envDefault:".soapnote/seal.key"`

	GeminiKeyParam          string `env:"GEMINI_KEY_PARAM" envDefault:"/soapnote/gemini-key"`
	GoogleClientIDParam     string `env:"GOOGLE_CLIENT_ID_PARAM" envDefault:"/soapnote/google-client-id"`
	GoogleDeveloperKeyParam string `env:"GOOGLE_DEVELOPER_KEY_PARAM" envDefault:"/soapnote/google-developer-key"`
	JWTSecretParam          string `env:"JWT_SECRET_PARAM" envDefault:"/soapnote/jwt-secret"`

	PrimaryModel  string        `env:"GEMINI_PRIMARY_MODEL" envDefault:"gemini-2.5-pro"`
	FallbackModel string        `env:"GEMINI_FALLBACK_MODEL" envDefault:"gemini-2.5-flash"`
	MaxAttempts   int           `env:"AI_MAX_ATTEMPTS" envDefault:"2"`
	RetryDelay    time.Duration `env:"AI_RETRY_DELAY" envDefault:"1500ms"`
	CallTimeout   time.Duration `env:"AI_CALL_TIMEOUT" envDefault:"0s"`

	FFmpegPath       string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	SampleRate       int    `env:"AUDIO_SAMPLE_RATE" envDefault:"16000"`
	Channels         int    `env:"AUDIO_CHANNELS" envDefault:"1"`
	MaxDirectBytes   int64  `env:"TRANSCRIBE_MAX_DIRECT_BYTES" envDefault:"20971520"`
	ChunkBytes       int64  `env:"TRANSCRIBE_CHUNK_BYTES" envDefault:"5242880"`
	ChunkConcurrency int    `env:"TRANSCRIBE_CHUNK_CONCURRENCY" envDefault:"8"`

	ArchiveFolderID  string        `env:"DRIVE_FOLDER_ID" envDefault:"1XGJmZp53bm_o-zaDgEzMv36FIxEL2e1F"`
	ArchivePrefix    string        `env:"ARCHIVE_PREFIX" envDefault:"SOAP차트"`
	AutoArchive      bool          `env:"AUTO_ARCHIVE" envDefault:"true"`
	InboxDir         string        `env:"INBOX_DIR"`
	ConsultationZone string        `env:"CONSULTATION_TZ" envDefault:"Asia/Seoul"`
	RunLockTTL       time.Duration `env:"RUN_LOCK_TTL" envDefault:"30m"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load dotenv: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges the environment parser cannot express.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "file", "dynamodb", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	switch c.Sealer {
	case "kms", "local", "plain":
	default:
		return fmt.Errorf("unknown TOKEN_SEALER %q", c.Sealer)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("AI_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("invalid audio format: rate=%d channels=%d", c.SampleRate, c.Channels)
	}
	if c.ChunkBytes <= 0 || c.MaxDirectBytes <= 0 {
		return fmt.Errorf("transcription thresholds must be positive")
	}
	if _, err := time.LoadLocation(c.ConsultationZone); err != nil {
		return fmt.Errorf("invalid CONSULTATION_TZ: %w", err)
	}
	return nil
}

// IsDevelopment reports whether development logging and fakes should be used.
func (c *Config) IsDevelopment() bool {
	return c.DevMode || c.AppEnv == "development"
}
