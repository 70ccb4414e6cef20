package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"github.com/chaos-io/bgremover/rembg"
)

type Config struct {
	// HTTP listen address, e.g. ":8080"
	Address         string        `env:"ADDRESS" envDefault:":8080"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"3m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES" envDefault:"20971520"`
	// 最长边超过该值时先缩放再送去抠图，0 表示不缩放
	MaxInputSize int `env:"MAX_INPUT_SIZE" envDefault:"0"`

	// cron 表达式，空字符串关闭后端探测
	ProbeSchedule string `env:"PROBE_SCHEDULE" envDefault:"@every 1m"`

	Backend rembg.BackendConfig `envPrefix:"REMBG_"`
}

// Load loads .env (if present) and parses environment variables into Config.
func Load(files ...string) (Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load(files...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Address == "" {
		return errors.New("address cannot be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.MaxInputSize < 0 {
		return errors.New("max input size cannot be negative")
	}
	switch c.Backend.Kind {
	case rembg.BackendServer, rembg.BackendBiRefNet, rembg.BackendPassthrough:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend.Kind)
	}
	if c.Backend.Kind != rembg.BackendPassthrough && c.Backend.URL == "" {
		return errors.New("backend url cannot be empty")
	}
	return nil
}
