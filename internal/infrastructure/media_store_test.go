package infrastructure

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"salesbot/internal/config"
)

func newTestMediaStore(t *testing.T, baseURL string, delays *[]time.Duration) *MediaStore {
	t.Helper()
	media := config.MediaConfig{PublicDir: t.TempDir(), PublicBaseURL: baseURL}
	tw := config.TwilioConfig{AccountSID: "AC123", AuthToken: "secret"}
	return NewMediaStore(media, tw, NopLogger(), nil, WithDownloadRetry(3, time.Second, noSleep(delays)))
}

func TestMediaStore_FetchStoresWithDetectedExtension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "AC123", user)
		require.Equal(t, "secret", pass)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(onePixelPNG)
	}))
	defer srv.Close()

	var delays []time.Duration
	store := newTestMediaStore(t, "https://bot.example.com", &delays)

	got, err := store.Fetch(context.Background(), srv.URL+"/Media/ME1")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(got.Filename, ".png"))
	require.Equal(t, "image/png", got.ContentType)
	require.Equal(t, "https://bot.example.com/public/"+got.Filename, got.PublicURL)
	require.Equal(t, filepath.Join(store.Dir(), got.Filename), got.Path)

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	require.Equal(t, onePixelPNG, data)
}

func TestMediaStore_FetchWithoutBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(onePixelPNG)
	}))
	defer srv.Close()

	var delays []time.Duration
	store := newTestMediaStore(t, "", &delays)

	got, err := store.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Empty(t, got.PublicURL)
	require.FileExists(t, got.Path)
}

func TestMediaStore_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(onePixelPNG)
	}))
	defer srv.Close()

	var delays []time.Duration
	store := newTestMediaStore(t, "", &delays)

	_, err := store.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, int32(3), hits.Load())
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestMediaStore_NotFoundIsFinal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	var delays []time.Duration
	store := newTestMediaStore(t, "", &delays)

	_, err := store.Fetch(context.Background(), srv.URL)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	require.Equal(t, int32(1), hits.Load())

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)
}
