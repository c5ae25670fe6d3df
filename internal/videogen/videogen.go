// Package videogen is a thin async-call/poll wrapper over the external
// text/image-to-video generator (§4.5). Grounded on the teacher's
// xAI Grok Imagine Video client (submit → poll-with-backoff → download),
// generalized to a configurable generic provider endpoint.
package videogen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vibecraft/orchestrator/internal/observability"
	"github.com/vibecraft/orchestrator/internal/orchestration"
)

// Status is the generator's reported job state.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// PollResult is the decoded response of a poll call.
type PollResult struct {
	Status    Status
	ResultURL string
	Error     string
}

// Client wraps the external video generator's submit/poll HTTP surface.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	maxWait    time.Duration // enforced wall clock per generation (§4.5 default 15 min)
}

// New builds a Client. maxWait is the wall-clock cap per generation;
// callers pass config.VideoGenTimeoutSec converted to a duration.
func New(endpoint, apiKey string, maxWait time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		maxWait: maxWait,
	}
}

type submitRequest struct {
	Prompt            string `json:"prompt"`
	Frames            int    `json:"frames"`
	FPS               float64 `json:"fps"`
	Seed              *int64 `json:"seed,omitempty"`
	ReferenceImageURL string `json:"reference_image_url,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type pollResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// Submit requests generation of a clip and returns the provider's job id.
// §9: "each external generator submission stores its provider-side job id
// on the Clip row before polling begins" — this return value is what the
// caller persists before calling Poll.
func (c *Client) Submit(ctx context.Context, prompt string, frames int, fps float64, seed *int64, referenceImageURL string) (string, error) {
	body, err := json.Marshal(submitRequest{
		Prompt:            prompt,
		Frames:            frames,
		FPS:               fps,
		Seed:              seed,
		ReferenceImageURL: referenceImageURL,
	})
	if err != nil {
		return "", orchestration.Wrap(orchestration.KindInternal, "videogen", "Submit", "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", orchestration.Wrap(orchestration.KindInternal, "videogen", "Submit", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Submit", "request failed", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return "", orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Submit",
			fmt.Sprintf("generator returned %d", resp.StatusCode), fmt.Errorf("%s", respBody))
	}
	if resp.StatusCode >= 400 {
		return "", orchestration.Wrap(orchestration.KindPermanentExternal, "videogen", "Submit",
			fmt.Sprintf("generator rejected request: %d", resp.StatusCode), fmt.Errorf("%s", respBody))
	}

	var out submitResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", orchestration.Wrap(orchestration.KindInternal, "videogen", "Submit", "decode response", err)
	}
	if out.JobID == "" {
		return "", orchestration.Wrap(orchestration.KindPermanentExternal, "videogen", "Submit", "no job id in response", nil)
	}
	return out.JobID, nil
}

// Poll checks the current status of a submitted job. It performs exactly
// one HTTP round trip; the caller (clipcoordinator) owns the poll loop,
// interval, and the maxWait deadline enforcement — Poll only classifies
// the single response it receives.
func (c *Client) Poll(ctx context.Context, externalJobID string) (*PollResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/generations/"+externalJobID, nil)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "videogen", "Poll", "build request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Poll", "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Poll", "read body", err)
	}
	if resp.StatusCode >= 500 {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Poll",
			fmt.Sprintf("generator returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}
	if resp.StatusCode >= 400 {
		return nil, orchestration.Wrap(orchestration.KindPermanentExternal, "videogen", "Poll",
			fmt.Sprintf("generator returned %d", resp.StatusCode), fmt.Errorf("%s", body))
	}

	var out pollResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "videogen", "Poll", "decode response", err)
	}

	result := &PollResult{Status: Status(out.Status), ResultURL: out.ResultURL, Error: out.Error}
	observability.L().Debug("videogen poll", observability.Component("videogen"))
	return result, nil
}

// MaxWait returns the configured wall-clock cap per generation.
func (c *Client) MaxWait() time.Duration {
	return c.maxWait
}

// Download fetches the generated clip bytes from its result URL, used
// when the composition engine needs a local copy instead of referencing
// the remote-hosted clip directly (§6 "clips/{clip_id}.mp4 ... mirrored
// on completion optional").
func (c *Client) Download(ctx context.Context, resultURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindInternal, "videogen", "Download", "build request", err)
	}
	downloadClient := &http.Client{Timeout: 120 * time.Second}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Download", "request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Download",
			fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, orchestration.Wrap(orchestration.KindTransientExternal, "videogen", "Download", "read body", err)
	}
	return data, nil
}
