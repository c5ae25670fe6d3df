package videogen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibecraft/orchestrator/internal/orchestration"
)

func TestSubmit_ReturnsProviderJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(submitResponse{JobID: "job-123"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Minute)
	jobID, err := c.Submit(context.Background(), "a neon skyline", 96, 24, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "job-123", jobID)
}

func TestSubmit_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Minute)
	_, err := c.Submit(context.Background(), "prompt", 96, 24, nil, "")
	require.Error(t, err)
	assert.Equal(t, orchestration.KindTransientExternal, orchestration.KindOf(err))
}

func TestSubmit_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Minute)
	_, err := c.Submit(context.Background(), "prompt", 96, 24, nil, "")
	require.Error(t, err)
	assert.Equal(t, orchestration.KindPermanentExternal, orchestration.KindOf(err))
}

func TestPoll_DecodesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/generations/job-123", r.URL.Path)
		json.NewEncoder(w).Encode(pollResponse{Status: "succeeded", ResultURL: "https://cdn.example/clip.mp4"})
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Minute)
	result, err := c.Poll(context.Background(), "job-123")
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, result.Status)
	assert.Equal(t, "https://cdn.example/clip.mp4", result.ResultURL)
}

func TestDownload_ReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake-mp4-bytes"))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key", time.Minute)
	data, err := c.Download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "fake-mp4-bytes", string(data))
}

func TestMaxWait_ReturnsConfiguredValue(t *testing.T) {
	c := New("https://example.com", "key", 15*time.Minute)
	assert.Equal(t, 15*time.Minute, c.MaxWait())
}
