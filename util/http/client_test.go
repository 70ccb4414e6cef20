package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoServer 返回收到的方法、Content-Type 和请求体
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method":       r.Method,
			"content_type": r.Header.Get("Content-Type"),
			"body":         string(body),
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func slowServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
			_, _ = w.Write([]byte(`{"ok": true}`))
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewHTTPClient(t *testing.T) {
	t.Parallel()

	client, ok := NewHTTPClient().(*HTTPClient)
	require.True(t, ok)
	// 不设置 http.Client.Timeout，截止时间只由请求 context 决定
	assert.Zero(t, client.client.Timeout)
	assert.Equal(t, defaultTimeout, client.timeout)
}

func TestHTTPClient_DoHTTPRequest_Bodies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     interface{}
		header   map[string]string
		wantBody string
	}{
		{
			name:     "结构体按 JSON 发送",
			body:     map[string]string{"prompt": "x"},
			header:   map[string]string{"Content-Type": "application/json"},
			wantBody: `{"prompt":"x"}`,
		},
		{
			name:     "io.Reader 原样发送",
			body:     strings.NewReader("--boundary--"),
			header:   map[string]string{"Content-Type": "multipart/form-data; boundary=boundary"},
			wantBody: "--boundary--",
		},
		{
			name:     "[]byte 原样发送",
			body:     []byte("raw bytes"),
			header:   map[string]string{"Content-Type": "text/plain"},
			wantBody: "raw bytes",
		},
		{
			name: "空 body",
		},
	}

	server := echoServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var got map[string]string
			err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{
				RequestURI: server.URL,
				Method:     "POST",
				Header:     tt.header,
				Body:       tt.body,
				Response:   &got,
			})
			require.NoError(t, err)
			assert.Equal(t, "POST", got["method"])
			assert.Equal(t, tt.wantBody, got["body"])
			assert.Equal(t, tt.header["Content-Type"], got["content_type"])
		})
	}
}

func TestHTTPClient_DoHTTPRequest_Responses(t *testing.T) {
	t.Parallel()

	pngMagic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngMagic)
		case "/empty":
			w.WriteHeader(http.StatusNoContent)
		case "/bad-json":
			_, _ = w.Write([]byte("{not json"))
		default:
			_, _ = w.Write([]byte(`{"prompt_id": "p1"}`))
		}
	}))
	defer server.Close()

	client := NewHTTPClient()
	ctx := context.Background()

	t.Run("原始字节", func(t *testing.T) {
		var raw []byte
		require.NoError(t, client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL + "/image", Response: &raw}))
		assert.Equal(t, pngMagic, raw)
	})

	t.Run("JSON 反序列化", func(t *testing.T) {
		var resp struct {
			PromptID string `json:"prompt_id"`
		}
		require.NoError(t, client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL, Response: &resp}))
		assert.Equal(t, "p1", resp.PromptID)
	})

	t.Run("nil Response 忽略响应体", func(t *testing.T) {
		assert.NoError(t, client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL + "/bad-json"}))
	})

	t.Run("空响应体", func(t *testing.T) {
		var resp map[string]any
		assert.NoError(t, client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL + "/empty", Response: &resp}))
		assert.Nil(t, resp)
	})

	t.Run("JSON 无效", func(t *testing.T) {
		var resp map[string]any
		err := client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL + "/bad-json", Response: &resp})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal response")
	})
}

func TestHTTPClient_DoHTTPRequest_InvalidParams(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient()
	ctx := context.Background()

	err := client.DoHTTPRequest(ctx, nil)
	assert.EqualError(t, err, "request param is nil")

	err = client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: "://invalid-url"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing protocol scheme")

	err = client.DoHTTPRequest(ctx, &RequestParam{Method: "POST", RequestURI: "http://127.0.0.1:1", Body: make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: unsupported type: chan int")
}

func TestHTTPClient_DoHTTPRequest_ErrorStatus(t *testing.T) {
	t.Parallel()

	for _, statusCode := range []int{400, 422, 500, 502, 503} {
		t.Run(strconv.Itoa(statusCode), func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(statusCode)
				_, _ = w.Write([]byte(`{"detail": "model exploded"}`))
			}))
			defer server.Close()

			err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{Method: "GET", RequestURI: server.URL})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "HTTP request failed with status "+strconv.Itoa(statusCode))
			assert.Contains(t, err.Error(), "model exploded")
		})
	}
}

func TestHTTPClient_DoHTTPRequest_ErrorBodyTruncated(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 4*maxErrorBody)))
	}))
	defer server.Close()

	err := NewHTTPClient().DoHTTPRequest(context.Background(), &RequestParam{Method: "GET", RequestURI: server.URL})
	require.Error(t, err)
	assert.Less(t, len(err.Error()), 2*maxErrorBody)
}

func TestHTTPClient_DoHTTPRequest_Timeouts(t *testing.T) {
	t.Parallel()

	server := slowServer(t, 150*time.Millisecond)
	// 默认超时比服务端慢，便于区分默认值和请求级超时
	client := &HTTPClient{client: &http.Client{}, timeout: 50 * time.Millisecond}
	ctx := context.Background()

	t.Run("默认超时生效", func(t *testing.T) {
		err := client.DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("请求超时长于默认值", func(t *testing.T) {
		var resp map[string]bool
		err := client.DoHTTPRequest(ctx, &RequestParam{
			Method:     "GET",
			RequestURI: server.URL,
			Timeout:    2 * time.Second,
			Response:   &resp,
		})
		require.NoError(t, err)
		assert.True(t, resp["ok"])
	})

	t.Run("请求超时短于服务端耗时", func(t *testing.T) {
		err := NewHTTPClient().DoHTTPRequest(ctx, &RequestParam{
			Method:     "GET",
			RequestURI: server.URL,
			Timeout:    20 * time.Millisecond,
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestHTTPClient_DoHTTPRequest_ContextCancellation(t *testing.T) {
	t.Parallel()

	server := slowServer(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := NewHTTPClient().DoHTTPRequest(ctx, &RequestParam{Method: "GET", RequestURI: server.URL})
	assert.ErrorIs(t, err, context.Canceled)
}
