package rembg

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"maps"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"

	"github.com/chaos-io/bgremover/util"
	nhttp "github.com/chaos-io/bgremover/util/http"
)

const (
	BiRefNetModel = "BiRefNet"

	comfyUploadPath  = "api/upload/image"
	comfyPromptPath  = "api/prompt"
	comfyHistoryPath = "api/history/"
	comfyViewPath    = "api/view"
	comfyStatsPath   = "api/system_stats"

	// workflow.json 里 LoadImage 节点的 id
	loadImageNode = "1"
)

//go:embed workflow.json
var defaultWorkflow []byte

var errPromptPending = errors.New("prompt still running")

// BiRefNetRemBG 通过 ComfyUI 工作流调用 BiRefNet 抠图
// 工作流不支持 alpha matting，相关参数被忽略
type BiRefNetRemBG struct {
	baseURL      string
	workflow     []byte
	pollInterval time.Duration
	maxAttempts  int
	// outputNode 为空时按节点 id 排序取第一张 output 图片
	outputNode string
	cli        nhttp.IClient
}

type BiRefNetOption func(*BiRefNetRemBG)

func WithBiRefNetClient(cli nhttp.IClient) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.cli = cli }
}

func WithPolling(interval time.Duration, maxAttempts int) BiRefNetOption {
	return func(b *BiRefNetRemBG) {
		b.pollInterval = interval
		b.maxAttempts = maxAttempts
	}
}

// WithWorkflowFile 用自定义的 API 格式工作流替换内置工作流
func WithWorkflowFile(path string) BiRefNetOption {
	return func(b *BiRefNetRemBG) {
		if path == "" {
			return
		}
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("keep embedded workflow")
			return
		}
		b.workflow = data
	}
}

// WithOutputNode 指定从哪个节点（通常是 SaveImage）取结果
func WithOutputNode(id string) BiRefNetOption {
	return func(b *BiRefNetRemBG) { b.outputNode = id }
}

func NewBiRefNetRemBG(baseURL string, opts ...BiRefNetOption) *BiRefNetRemBG {
	b := &BiRefNetRemBG{
		baseURL:      strings.TrimSuffix(baseURL, "/") + "/",
		workflow:     defaultWorkflow,
		pollInterval: time.Second,
		maxAttempts:  120,
		cli:          nhttp.NewHTTPClient(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *BiRefNetRemBG) Remove(ctx context.Context, img image.Image, opts Options) (image.Image, error) {
	logger := zerolog.Ctx(ctx)
	if opts.AlphaMatting {
		logger.Debug().Msg("alpha matting is not supported by the BiRefNet workflow, ignored")
	}

	var encoded bytes.Buffer
	if err := util.EncodePNG(&encoded, img); err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	uploaded, err := b.uploadImage(ctx, encoded.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	promptID, err := b.prompt(ctx, uploaded.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	logger.Debug().Str("prompt_id", promptID).Msg("BiRefNet prompt queued")

	output, err := b.waitOutput(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	raw, err := b.view(ctx, output)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}

	out, err := util.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: decode output: %w", ErrBackend, err)
	}
	return out, nil
}

func (b *BiRefNetRemBG) Ping(ctx context.Context) error {
	var stats map[string]any
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + comfyStatsPath,
		Method:     "GET",
		Response:   &stats,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ping %s: %w", b.baseURL, err)
	}
	return nil
}

type comfyImage struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

/*
	curl -X POST "$BASE_URL/api/upload/image" \
	  -F "image=@my_image.png" \
	  -F "type=input" \
	  -F "overwrite=true"

{"name": "my_image1.png", "subfolder": "", "type": "input"}%
*/
func (b *BiRefNetRemBG) uploadImage(ctx context.Context, data []byte) (*comfyImage, error) {
	filename := ksuid.New().String() + ".png"
	body, contentType, err := multipartBody("image", filename, data, map[string]string{
		"type":      "input",
		"overwrite": "true",
	})
	if err != nil {
		return nil, err
	}

	resp := &comfyImage{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + comfyUploadPath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": contentType},
		Body:       body,
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return nil, fmt.Errorf("upload image: %w", err)
	}
	if resp.Name == "" {
		resp.Name = filename
	}
	return resp, nil
}

type promptResp struct {
	PromptID   string         `json:"prompt_id"`
	NodeErrors map[string]any `json:"node_errors"`
}

/*
	curl -X POST "$BASE_URL/api/prompt" \
	  -H "Content-Type: application/json" \
	  -d '{"prompt": '"$(cat workflow.json)"'}'
*/
func (b *BiRefNetRemBG) prompt(ctx context.Context, imageName string) (string, error) {
	wk := map[string]map[string]any{}
	if err := json.Unmarshal(b.workflow, &wk); err != nil {
		return "", fmt.Errorf("unmarshal workflow data: %w", err)
	}

	node, ok := wk[loadImageNode]
	if !ok {
		return "", fmt.Errorf("workflow has no node %q", loadImageNode)
	}
	inputs, ok := node["inputs"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("workflow node %q has no inputs", loadImageNode)
	}
	inputs["image"] = imageName

	resp := &promptResp{}
	reqParam := &nhttp.RequestParam{
		RequestURI: b.baseURL + comfyPromptPath,
		Method:     "POST",
		Header:     map[string]string{"Content-Type": "application/json"},
		Body:       map[string]any{"prompt": wk, "client_id": ksuid.New().String()},
		Response:   resp,
	}
	if err := b.cli.DoHTTPRequest(ctx, reqParam); err != nil {
		return "", fmt.Errorf("queue prompt: %w", err)
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("queue prompt: node errors %v", resp.NodeErrors)
	}
	if resp.PromptID == "" {
		return "", errors.New("queue prompt: empty prompt id")
	}
	return resp.PromptID, nil
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []comfyImage `json:"images"`
	} `json:"outputs"`
}

func (b *BiRefNetRemBG) waitOutput(ctx context.Context, promptID string) (*comfyImage, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < b.maxAttempts; attempt++ {
		out, err := b.history(ctx, promptID)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, errPromptPending) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
	return nil, fmt.Errorf("prompt %s not finished after %d attempts", promptID, b.maxAttempts)
}

func (b *BiRefNetRemBG) history(ctx context.Context, promptID string) (*comfyImage, error) {
	resp := map[string]historyEntry{}
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + comfyHistoryPath + url.PathEscape(promptID),
		Method:     "GET",
		Response:   &resp,
	})
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	entry, ok := resp[promptID]
	if !ok {
		return nil, errPromptPending
	}
	if entry.Status.StatusStr == "error" {
		return nil, fmt.Errorf("prompt %s failed", promptID)
	}
	nodes := slices.Sorted(maps.Keys(entry.Outputs))
	if b.outputNode != "" {
		nodes = []string{b.outputNode}
	}
	for _, id := range nodes {
		for _, img := range entry.Outputs[id].Images {
			if img.Type == "output" {
				out := img
				return &out, nil
			}
		}
	}
	if entry.Status.Completed {
		return nil, fmt.Errorf("prompt %s produced no output image", promptID)
	}
	return nil, errPromptPending
}

func (b *BiRefNetRemBG) view(ctx context.Context, img *comfyImage) ([]byte, error) {
	q := url.Values{}
	q.Set("filename", img.Filename)
	q.Set("subfolder", img.Subfolder)
	q.Set("type", img.Type)

	var raw []byte
	err := b.cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI: b.baseURL + comfyViewPath + "?" + q.Encode(),
		Method:     "GET",
		Response:   &raw,
	})
	if err != nil {
		return nil, fmt.Errorf("view output: %w", err)
	}
	return raw, nil
}
