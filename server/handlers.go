package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chaos-io/bgremover/metrics"
	"github.com/chaos-io/bgremover/rembg"
	"github.com/chaos-io/bgremover/util"
)

const imageField = "image"

type optionsResponse struct {
	Defaults            rembg.Options `json:"defaults"`
	ForegroundThreshold rembg.Range   `json:"foreground_threshold"`
	BackgroundThreshold rembg.Range   `json:"background_threshold"`
	ErodeSize           rembg.Range   `json:"erode_size"`
	Formats             []string      `json:"formats"`
	Backend             string        `json:"backend"`
	Model               string        `json:"model"`
}

func (s *Server) optionsResponse() optionsResponse {
	return optionsResponse{
		Defaults:            rembg.DefaultOptions(),
		ForegroundThreshold: rembg.ForegroundThresholdRange,
		BackgroundThreshold: rembg.BackgroundThresholdRange,
		ErodeSize:           rembg.ErodeSizeRange,
		Formats:             util.SupportedExtensions,
		Backend:             s.cfg.Backend.Kind,
		Model:               s.model,
	}
}

func (s *Server) handleIndex(c *gin.Context) {
	accept := make([]string, 0, len(util.SupportedExtensions))
	for _, ext := range util.SupportedExtensions {
		accept = append(accept, "."+ext)
	}
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Options": s.optionsResponse(),
		"Accept":  strings.Join(accept, ","),
		"Status":  s.prober.Status(),
	})
}

func (s *Server) handleOptions(c *gin.Context) {
	c.JSON(http.StatusOK, s.optionsResponse())
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"backend": s.prober.Status(),
		"models":  s.sessions.Models(),
	})
}

func (s *Server) handleRemove(c *gin.Context) {
	ctx := c.Request.Context()
	logger := zerolog.Ctx(ctx)
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes))
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	fh, err := c.FormFile(imageField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", maxErr.Limit))
			return
		}
		s.fail(c, http.StatusBadRequest, fmt.Errorf("missing %q file: %w", imageField, err))
		return
	}

	opts, err := parseOptions(c)
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	img, err := util.DecodeImage(f, fh.Filename)
	if err != nil {
		if errors.Is(err, util.ErrUnsupportedFormat) {
			s.fail(c, http.StatusBadRequest, err)
			return
		}
		s.fail(c, http.StatusUnprocessableEntity, err)
		return
	}
	img = util.ResizeWithinMax(img, s.cfg.MaxInputSize)

	remover, err := s.sessions.Get(ctx, s.model)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	done := util.Trace(logger, "remove background")
	out, err := remover.Remove(ctx, img, opts)
	done()
	labels := map[string]string{"model": s.model}
	if err != nil {
		s.metrics.Inc(ctx, metrics.RemovalErrorsTotal, labels, 1)
		s.fail(c, removeStatus(err), err)
		return
	}
	s.metrics.Inc(ctx, metrics.RemovalsTotal, labels, 1)

	var buf bytes.Buffer
	if err := util.EncodePNG(&buf, out); err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}

	c.Header("Content-Disposition", attachment(util.OutputFileName(fh.Filename)))
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

// attachment 非 ASCII 文件名按 RFC 2231 编码为 filename*
func attachment(name string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func removeStatus(err error) int {
	switch {
	case errors.Is(err, rembg.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// parseOptions 缺省字段取默认值；alpha matting 关闭时不解析阈值
func parseOptions(c *gin.Context) (rembg.Options, error) {
	opts := rembg.DefaultOptions()

	if v, ok := c.GetPostForm("alpha_matting"); ok {
		b, err := parseBool(v)
		if err != nil {
			return opts, fmt.Errorf("%w: alpha_matting: %q", rembg.ErrInvalidOptions, v)
		}
		opts.AlphaMatting = b
	}
	if !opts.AlphaMatting {
		return opts, nil
	}

	fields := []struct {
		name string
		dst  *int
	}{
		{"foreground_threshold", &opts.ForegroundThreshold},
		{"background_threshold", &opts.BackgroundThreshold},
		{"erode_size", &opts.ErodeSize},
	}
	for _, f := range fields {
		v, ok := c.GetPostForm(f.name)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s: %q", rembg.ErrInvalidOptions, f.name, v)
		}
		*f.dst = n
	}
	return opts, opts.Validate()
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return strconv.ParseBool(v)
}
