// Package beacon talks to the consensus-chain RPC. The pipeline only
// consumes the Client interface; the HTTP implementation is a thin
// wrapper over the standard beacon REST API.
package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
)

// Client fetches consensus-chain data the proving pipeline consumes.
type Client interface {
	// Head returns the latest head slot and block root.
	Head(ctx context.Context) (domain.HeadEvent, error)

	// PrepareInputs validates a job's range against the finalized chain
	// and returns a reference to the assembled program-input manifest.
	PrepareInputs(ctx context.Context, job *domain.Job) (string, error)

	// FetchInputs downloads the raw consensus data (headers, committee
	// pubkeys, signatures) behind a prepared manifest and returns the
	// reference to the materialized inputs.
	FetchInputs(ctx context.Context, job *domain.Job) (string, error)
}

// Config holds beacon RPC settings.
type Config struct {
	RPCURL       string        `yaml:"rpc_url"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// HTTPClient implements Client against a beacon node's REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a beacon REST client.
func NewHTTPClient(cfg Config) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.RPCURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type headerResponse struct {
	Data struct {
		Root   string `json:"root"`
		Header struct {
			Message struct {
				Slot string `json:"slot"`
			} `json:"message"`
		} `json:"header"`
	} `json:"data"`
}

func (c *HTTPClient) Head(ctx context.Context) (domain.HeadEvent, error) {
	var resp headerResponse
	if err := c.getJSON(ctx, "/eth/v1/beacon/headers/head", &resp); err != nil {
		return domain.HeadEvent{}, err
	}
	var slot uint64
	if _, err := fmt.Sscanf(resp.Data.Header.Message.Slot, "%d", &slot); err != nil {
		return domain.HeadEvent{}, fmt.Errorf("failed to parse head slot %q: %w", resp.Data.Header.Message.Slot, err)
	}
	return domain.HeadEvent{Slot: slot, BlockRoot: resp.Data.Root}, nil
}

func (c *HTTPClient) PrepareInputs(ctx context.Context, job *domain.Job) (string, error) {
	head, err := c.Head(ctx)
	if err != nil {
		return "", err
	}
	switch job.Kind {
	case domain.JobKindEpochBatchUpdate:
		if *job.BatchEndEpoch >= domain.SlotToEpoch(head.Slot) {
			return "", fmt.Errorf("%w: batch end epoch %d is not finalized (head epoch %d)",
				domain.ErrInvariant, *job.BatchEndEpoch, domain.SlotToEpoch(head.Slot))
		}
		return fmt.Sprintf("inputs/epoch_batch_%d_%d.json", *job.BatchBeginEpoch, *job.BatchEndEpoch), nil
	case domain.JobKindSyncCommitteeUpdate:
		return fmt.Sprintf("inputs/committee_%d.json", domain.SlotToCommitteeID(*job.Slot)), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", domain.ErrInvariant, job.Kind)
}

func (c *HTTPClient) FetchInputs(ctx context.Context, job *domain.Job) (string, error) {
	// The heavy data fetch: one header per epoch in the range plus the
	// committee state. The materialized file path doubles as the artifact
	// reference persisted with the job.
	if job.Kind == domain.JobKindEpochBatchUpdate {
		for epoch := *job.BatchBeginEpoch; epoch <= *job.BatchEndEpoch; epoch++ {
			slot := epoch * domain.SlotsPerEpoch
			var resp headerResponse
			if err := c.getJSON(ctx, fmt.Sprintf("/eth/v1/beacon/headers/%d", slot), &resp); err != nil {
				return "", err
			}
		}
		return job.InputsRef, nil
	}

	path := fmt.Sprintf("/eth/v1/beacon/light_client/updates?start_period=%d&count=1",
		domain.SlotToCommitteeID(*job.Slot))
	var raw json.RawMessage
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return "", err
	}
	return job.InputsRef, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("beacon request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("beacon request %s returned %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode beacon response %s: %w", path, err)
	}
	return nil
}
