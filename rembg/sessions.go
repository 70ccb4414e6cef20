package rembg

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Factory 按模型名创建 Remover，只会对每个模型调用一次
type Factory func(ctx context.Context, model string) (Remover, error)

// Sessions 缓存每个模型的 Remover，进程内复用同一个实例
// 并发的首次调用共享同一次构建；构建失败不缓存，下次重试
type Sessions struct {
	factory Factory

	mu       sync.RWMutex
	removers map[string]Remover
	group    singleflight.Group
	builds   int
}

func NewSessions(factory Factory) *Sessions {
	return &Sessions{
		factory:  factory,
		removers: make(map[string]Remover),
	}
}

func (s *Sessions) Get(ctx context.Context, model string) (Remover, error) {
	s.mu.RLock()
	r, ok := s.removers[model]
	s.mu.RUnlock()
	if ok {
		return r, nil
	}

	v, err, _ := s.group.Do(model, func() (interface{}, error) {
		s.mu.RLock()
		r, ok := s.removers[model]
		s.mu.RUnlock()
		if ok {
			return r, nil
		}

		r, err := s.factory(ctx, model)
		if err != nil {
			return nil, fmt.Errorf("new session %s: %w", model, err)
		}

		s.mu.Lock()
		s.removers[model] = r
		s.builds++
		s.mu.Unlock()

		zerolog.Ctx(ctx).Info().Str("model", model).Msg("remover session created")
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Remover), nil
}

// Models 已创建的模型
func (s *Sessions) Models() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	models := make([]string, 0, len(s.removers))
	for m := range s.removers {
		models = append(models, m)
	}
	return models
}

func (s *Sessions) builtCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.builds
}
