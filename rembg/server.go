package rembg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"mime/multipart"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

const (
	DefaultModel = "u2net"

	removePath = "api/remove"
	// GET /api 需要 url 参数，健康检查用 FastAPI 自带的 schema
	defaultPingPath = "openapi.json"
)

// ServerRemover 调用 `rembg s` 启动的 HTTP 服务
type ServerRemover struct {
	baseURL  string
	model    string
	pingPath string
	timeout  time.Duration
	cli      nhttp.IClient
}

type ServerOption func(*ServerRemover)

func WithClient(cli nhttp.IClient) ServerOption {
	return func(s *ServerRemover) { s.cli = cli }
}

func WithTimeout(d time.Duration) ServerOption {
	return func(s *ServerRemover) { s.timeout = d }
}

func WithPingPath(p string) ServerOption {
	return func(s *ServerRemover) { s.pingPath = strings.TrimPrefix(p, "/") }
}

func NewServerRemover(baseURL, model string, opts ...ServerOption) *ServerRemover {
	if model == "" {
		model = DefaultModel
	}
	s := &ServerRemover{
		baseURL:  strings.TrimSuffix(baseURL, "/") + "/",
		model:    model,
		pingPath: defaultPingPath,
		cli:      nhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ServerRemover) Model() string {
	return s.model
}

/*
	curl -X POST "$BASE_URL/api/remove" \
	  -F "file=@my_image.png" \
	  -F "model=u2net" \
	  -F "a=true" -F "af=240" -F "ab=10" -F "ae=10"
*/
func (s *ServerRemover) Remove(ctx context.Context, img image.Image, opts Options) (image.Image, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var encoded bytes.Buffer
	if err := util.EncodePNG(&encoded, img); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	fields := opts.Params()
	fields["model"] = s.model

	body, contentType, err := multipartBody("file", "image.png", encoded.Bytes(), fields)
	if err != nil {
		return nil, err
	}

	var raw []byte
	reqParam := &nhttp.RequestParam{
		RequestURI: s.baseURL + removePath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   &raw,
		Timeout:    s.timeout,
	}
	if err := s.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("model", s.model).
		Bool("alpha_matting", opts.AlphaMatting).
		Int("bytes", len(raw)).
		Msg("rembg server responded")

	out, err := util.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrBackend, err)
	}
	return out, nil
}

func (s *ServerRemover) Ping(ctx context.Context) error {
	var raw []byte
	err := s.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: s.baseURL + s.pingPath,
		Method:     "GET",
		Response:   &raw,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ping %s: %w", s.baseURL, err)
	}
	return nil
}

func multipartBody(field, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("copy form file: %w", err)
	}

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}
