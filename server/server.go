package server

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/chaos-io/bgremover/config"
	"github.com/chaos-io/bgremover/metrics"
	"github.com/chaos-io/bgremover/rembg"
)

//go:embed templates/*.html
var templatesFS embed.FS

type Server struct {
	cfg      config.Config
	model    string
	sessions *rembg.Sessions
	metrics  *metrics.Registry
	prober   *Prober
	engine   *gin.Engine
}

func New(cfg config.Config, sessions *rembg.Sessions, reg *metrics.Registry) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		model:    cfg.Backend.ModelName(),
		sessions: sessions,
		metrics:  reg,
	}

	prober, err := NewProber(cfg.ProbeSchedule, cfg.Backend.Kind, s.model, s.pingBackend)
	if err != nil {
		return nil, err
	}
	s.prober = prober

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.SetHTMLTemplate(tmpl)
	engine.MaxMultipartMemory = cfg.MaxUploadBytes
	engine.Use(RequestLogger(reg), Recovery())

	engine.GET("/", s.handleIndex)
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/metrics", reg.Handler)

	api := engine.Group("/api")
	api.GET("/options", s.handleOptions)
	api.POST("/remove", s.handleRemove)

	s.engine = engine
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 启动 HTTP 服务，ctx 取消后优雅退出
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.prober.Start(ctx)
	defer s.prober.Stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", s.cfg.Address).Str("backend", s.cfg.Backend.Kind).Str("model", s.model).Msg("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// pingBackend 取出（必要时创建）默认模型的 session 并探测后端
func (s *Server) pingBackend(ctx context.Context) error {
	remover, err := s.sessions.Get(ctx, s.model)
	if err != nil {
		return err
	}
	if p, ok := remover.(rembg.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
