// Package prover talks to the off-chain proving service. Proof
// generation is asynchronous: a submitted batch returns a handle that is
// polled until DONE or FAILED.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
)

// Batch states reported by the proving service.
const (
	BatchStatusPending = "PENDING"
	BatchStatusDone    = "DONE"
	BatchStatusFailed  = "FAILED"
)

// Client is the proving-service collaborator consumed by the pipeline.
type Client interface {
	// SubmitBatch uploads a trace artifact and starts proof generation.
	// Returns the batch handle to poll.
	SubmitBatch(ctx context.Context, traceRef string, kind domain.JobKind) (string, error)

	// BatchStatus returns PENDING, DONE or FAILED for a batch handle.
	BatchStatus(ctx context.Context, batchID string) (string, error)

	// FetchProof downloads a finished proof and returns its reference.
	FetchProof(ctx context.Context, batchID string) (string, error)

	// SubmitWrap requests repackaging of a proof for the destination
	// chain's verifier. Returns the wrap batch handle to poll.
	SubmitWrap(ctx context.Context, proofRef string, batchID string) (string, error)
}

// Config holds proving-service settings.
type Config struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// HTTPClient implements Client over the proving service's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a proving-service client.
func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type submitResponse struct {
	BatchID string `json:"batch_id"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (c *HTTPClient) SubmitBatch(ctx context.Context, traceRef string, kind domain.JobKind) (string, error) {
	body := map[string]string{"trace": traceRef, "kind": string(kind)}
	var resp submitResponse
	if err := c.postJSON(ctx, "/v1/proof-generation", body, &resp); err != nil {
		return "", err
	}
	return resp.BatchID, nil
}

func (c *HTTPClient) BatchStatus(ctx context.Context, batchID string) (string, error) {
	var resp statusResponse
	if err := c.getJSON(ctx, "/v1/batches/"+batchID, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

func (c *HTTPClient) FetchProof(ctx context.Context, batchID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/batches/"+batchID+"/proof", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("prover request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("prover proof fetch for %s returned %d", batchID, resp.StatusCode)
	}
	// Drain the proof body; the durable handle is the batch id itself.
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return "", err
	}
	return "proofs/" + batchID + ".json", nil
}

func (c *HTTPClient) SubmitWrap(ctx context.Context, proofRef string, batchID string) (string, error) {
	body := map[string]string{"proof": proofRef, "source_batch_id": batchID}
	var resp submitResponse
	if err := c.postJSON(ctx, "/v1/proof-wrapping", body, &resp); err != nil {
		return "", err
	}
	return resp.BatchID, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", c.apiKey)
	return c.do(req, out)
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("prover request %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("prover request %s returned %d", req.URL.Path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode prover response %s: %w", req.URL.Path, err)
	}
	return nil
}
