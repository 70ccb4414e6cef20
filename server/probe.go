package server

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Status 最近一次后端探测结果
type Status struct {
	Backend   string    `json:"backend"`
	Model     string    `json:"model"`
	Available bool      `json:"available"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober 按 cron 表达式定期探测抠图后端
type Prober struct {
	schedule string
	check    func(ctx context.Context) error
	timeout  time.Duration

	cron *cron.Cron

	mu     sync.RWMutex
	status Status
}

func NewProber(schedule, backend, model string, check func(ctx context.Context) error) (*Prober, error) {
	p := &Prober{
		schedule: schedule,
		check:    check,
		timeout:  10 * time.Second,
		status:   Status{Backend: backend, Model: model},
	}
	if schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Start 立即探测一次（顺带预热模型 session），然后按计划执行
func (p *Prober) Start(ctx context.Context) {
	go p.Check(ctx)

	if p.schedule == "" {
		return
	}
	p.cron = cron.New()
	// 表达式已在 NewProber 中校验
	_, _ = p.cron.AddFunc(p.schedule, func() {
		p.Check(ctx)
	})
	p.cron.Start()
}

func (p *Prober) Stop() {
	if p.cron == nil {
		return
	}
	<-p.cron.Stop().Done()
}

func (p *Prober) Check(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)

	p.mu.Lock()
	p.status.CheckedAt = time.Now()
	p.status.Available = err == nil
	p.status.Error = ""
	if err != nil {
		p.status.Error = err.Error()
	}
	status := p.status
	p.mu.Unlock()

	if err != nil {
		log.Warn().Err(err).Str("backend", status.Backend).Msg("backend unavailable")
	} else {
		log.Debug().Str("backend", status.Backend).Msg("backend available")
	}
	return status
}

func (p *Prober) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}
