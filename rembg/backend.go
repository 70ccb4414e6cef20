package rembg

import (
	"context"
	"fmt"
	"time"
)

const (
	BackendServer      = "server"
	BackendBiRefNet    = "birefnet"
	BackendPassthrough = "passthrough"
)

type BackendConfig struct {
	Kind     string        `env:"BACKEND" envDefault:"server"`
	URL      string        `env:"URL" envDefault:"http://127.0.0.1:7000"`
	Model    string        `env:"MODEL" envDefault:"u2net"`
	Timeout  time.Duration `env:"TIMEOUT" envDefault:"2m"`
	PingPath string        `env:"PING_PATH" envDefault:"openapi.json"`

	WorkflowFile string        `env:"WORKFLOW_FILE"`
	OutputNode   string        `env:"OUTPUT_NODE"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"120"`
}

// NewFactory 根据后端类型构造 Factory
func NewFactory(cfg BackendConfig) (Factory, error) {
	switch cfg.Kind {
	case BackendServer:
		return func(ctx context.Context, model string) (Remover, error) {
			return NewServerRemover(cfg.URL, model,
				WithTimeout(cfg.Timeout),
				WithPingPath(cfg.PingPath),
			), nil
		}, nil
	case BackendBiRefNet:
		return func(ctx context.Context, model string) (Remover, error) {
			if model != BiRefNetModel {
				return nil, fmt.Errorf("%w: %s backend only serves %s", ErrUnknownModel, BackendBiRefNet, BiRefNetModel)
			}
			return NewBiRefNetRemBG(cfg.URL,
				WithPolling(cfg.PollInterval, cfg.MaxAttempts),
				WithWorkflowFile(cfg.WorkflowFile),
				WithOutputNode(cfg.OutputNode),
			), nil
		}, nil
	case BackendPassthrough:
		return func(ctx context.Context, model string) (Remover, error) {
			return NewDefaultRemBG(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
}

// ModelName 后端的默认模型名
func (cfg BackendConfig) ModelName() string {
	if cfg.Kind == BackendBiRefNet {
		return BiRefNetModel
	}
	if cfg.Model == "" {
		return DefaultModel
	}
	return cfg.Model
}
