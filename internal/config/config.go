package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

var ErrMissingToken = errors.New("DISCORD_TOKEN is required")

type Config struct {
	DiscordToken       string            `yaml:"discord_token"`
	Log                LogConfig         `yaml:"log"`
	Database           DatabaseConfig    `yaml:"database"`
	RetentionDays      int               `yaml:"retention_days" validate:"min=1"`
	HTTPTimeoutSeconds int               `yaml:"http_timeout_seconds" validate:"min=1"`
	EmbedColor         int               `yaml:"embed_color" validate:"min=0,max=16777215"`
	Health             HealthConfig      `yaml:"health"`
	Captcher           CaptcherConfig    `yaml:"captcher"`
	Cooldown           CooldownConfig    `yaml:"cooldown"`
	Reputation         ReputationConfig  `yaml:"reputation"`
	Shortener          ShortenerConfig   `yaml:"shortener"`
	Lyrics             LyricsConfig      `yaml:"lyrics"`
	Coronavirus        CoronavirusConfig `yaml:"coronavirus"`
	Cleverbot          CleverbotConfig   `yaml:"cleverbot"`
}

type LogConfig struct {
	Level      string `yaml:"level" validate:"oneof=debug info warn error"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"min=0"`
	Compress   bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver" validate:"oneof=sqlite postgres"`
	DSN          string `yaml:"dsn" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns int    `yaml:"max_idle_conns" validate:"min=0"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"required_if=Enabled true"`
}

type CaptcherConfig struct {
	TimeoutSeconds      int `yaml:"timeout_seconds" validate:"min=1"`
	ResultLingerSeconds int `yaml:"result_linger_seconds" validate:"min=0"`
	ImageWidth          int `yaml:"image_width" validate:"min=120"`
	ImageHeight         int `yaml:"image_height" validate:"min=40"`
}

type CooldownConfig struct {
	DefaultIgnoreBot bool `yaml:"default_ignore_bot"`
	DefaultSendDM    bool `yaml:"default_send_dm"`
}

type ReputationConfig struct {
	CooldownHours        int `yaml:"cooldown_hours" validate:"min=0"`
	BoardCooldownSeconds int `yaml:"board_cooldown_seconds" validate:"min=0"`
	PageSize             int `yaml:"page_size" validate:"min=1,max=25"`
}

type ShortenerConfig struct {
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

type LyricsConfig struct {
	BaseURL              string `yaml:"base_url" validate:"omitempty,url"`
	APIKey               string `yaml:"api_key"`
	ChoiceTimeoutSeconds int    `yaml:"choice_timeout_seconds" validate:"min=1"`
}

type CoronavirusConfig struct {
	URL string `yaml:"url" validate:"omitempty,url"`
}

type CleverbotConfig struct {
	URL                string `yaml:"url" validate:"omitempty,url"`
	APIKey             string `yaml:"api_key"`
	IdleTimeoutSeconds int    `yaml:"idle_timeout_seconds" validate:"min=1"`
}

func DefaultConfig() Config {
	return Config{
		Log:                LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 28},
		Database:           DatabaseConfig{Driver: "sqlite", DSN: "/data/cogs.db"},
		RetentionDays:      30,
		HTTPTimeoutSeconds: 15,
		EmbedColor:         0x5865F2,
		Health:             HealthConfig{Enabled: false, Addr: ":8080"},
		Captcher: CaptcherConfig{
			TimeoutSeconds:      300,
			ResultLingerSeconds: 5,
			ImageWidth:          280,
			ImageHeight:         90,
		},
		Cooldown:    CooldownConfig{DefaultIgnoreBot: true, DefaultSendDM: false},
		Reputation:  ReputationConfig{CooldownHours: 6, BoardCooldownSeconds: 10, PageSize: 15},
		Shortener:   ShortenerConfig{},
		Lyrics:      LyricsConfig{BaseURL: "https://api.ksoft.si", ChoiceTimeoutSeconds: 60},
		Coronavirus: CoronavirusConfig{URL: "https://coronavirus-tracker-api.herokuapp.com/all"},
		Cleverbot:   CleverbotConfig{URL: "https://public-api.travitia.xyz/talk", IdleTimeoutSeconds: 300},
	}
}

// Load reads the configuration and fails when no bot token is available.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, ErrMissingToken
	}
	return cfg, nil
}

// Read builds the configuration from defaults, the YAML file at CONFIG_PATH, a .env
// file and the environment, in that order. The token is not required here.
func Read() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	applyEnv(&cfg)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New()

func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", envString("DATABASE_PATH", cfg.Database.DSN))
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.HTTPTimeoutSeconds = envInt("HTTP_TIMEOUT_SECONDS", cfg.HTTPTimeoutSeconds)
	cfg.EmbedColor = envInt("EMBED_COLOR", cfg.EmbedColor)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Captcher.TimeoutSeconds = envInt("CAPTCHER_TIMEOUT_SECONDS", cfg.Captcher.TimeoutSeconds)
	cfg.Captcher.ResultLingerSeconds = envInt("CAPTCHER_RESULT_LINGER_SECONDS", cfg.Captcher.ResultLingerSeconds)
	cfg.Cooldown.DefaultIgnoreBot = envBool("COOLDOWN_DEFAULT_IGNORE_BOT", cfg.Cooldown.DefaultIgnoreBot)
	cfg.Cooldown.DefaultSendDM = envBool("COOLDOWN_DEFAULT_SEND_DM", cfg.Cooldown.DefaultSendDM)
	cfg.Reputation.CooldownHours = envInt("REPUTATION_COOLDOWN_HOURS", cfg.Reputation.CooldownHours)
	cfg.Shortener.BaseURL = envString("SHORTENER_BASE_URL", cfg.Shortener.BaseURL)
	cfg.Lyrics.BaseURL = envString("LYRICS_BASE_URL", cfg.Lyrics.BaseURL)
	cfg.Lyrics.APIKey = envString("LYRICS_API_KEY", cfg.Lyrics.APIKey)
	cfg.Coronavirus.URL = envString("CORONAVIRUS_URL", cfg.Coronavirus.URL)
	cfg.Cleverbot.URL = envString("CLEVERBOT_URL", cfg.Cleverbot.URL)
	cfg.Cleverbot.APIKey = envString("CLEVERBOT_API_KEY", cfg.Cleverbot.APIKey)
}

// BuildLogger returns a JSON zap logger on stderr, teed into a rotating file when
// log.file is set.
func BuildLogger(cfg LogConfig) (*zap.Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "message"
	encoderCfg.LevelKey = "level"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(parseLevel(strings.ToLower(cfg.Level)))
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
