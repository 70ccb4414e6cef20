package util

import (
	"context"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadImage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/assets/cat.png" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_ = png.Encode(w, testImage(9, 4))
	}))
	defer server.Close()

	img, name, err := DownloadImage(context.Background(), server.URL+"/assets/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "cat.png", name)
	assert.Equal(t, 9, img.Bounds().Dx())

	_, _, err = DownloadImage(context.Background(), server.URL+"/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status code 404")
}
