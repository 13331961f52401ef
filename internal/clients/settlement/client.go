// Package settlement talks to the destination chain that verifies
// wrapped proofs. The client serializes transaction submissions: the
// settlement account requires sequential transaction numbering.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/petscheit/bankai-sub001/internal/core/domain"
)

// Client is the settlement-chain collaborator consumed by the pipeline.
type Client interface {
	// LatestEpochSlot returns the slot of the latest verified epoch.
	LatestEpochSlot(ctx context.Context) (uint64, error)

	// LatestCommitteeID returns the latest verified committee period.
	LatestCommitteeID(ctx context.Context) (uint64, error)

	// CommitteeHash returns the verified committee hash for a slot.
	CommitteeHash(ctx context.Context, slot uint64) (string, error)

	// SubmitUpdate broadcasts a job's wrapped proof and returns the
	// transaction hash. Submissions are serialized internally.
	SubmitUpdate(ctx context.Context, job *domain.Job) (string, error)

	// WaitForConfirmation blocks until the transaction is confirmed.
	WaitForConfirmation(ctx context.Context, txHash string) error
}

// Config holds settlement-chain settings.
type Config struct {
	RPCURL          string `yaml:"rpc_url"`
	ContractAddress string `yaml:"contract_address"`
	AccountAddress  string `yaml:"account_address"`
	PrivateKey      string `yaml:"private_key"`
}

// RPCClient implements Client over the chain's JSON-RPC endpoint.
type RPCClient struct {
	cfg  Config
	http *http.Client

	// One update transaction in flight at a time.
	submitMu sync.Mutex
}

// NewRPCClient creates a settlement-chain client.
func NewRPCClient(cfg Config) *RPCClient {
	return &RPCClient{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RPCClient) LatestEpochSlot(ctx context.Context) (uint64, error) {
	return c.callUint(ctx, "get_latest_epoch_slot")
}

func (c *RPCClient) LatestCommitteeID(ctx context.Context) (uint64, error) {
	return c.callUint(ctx, "get_latest_committee_id")
}

func (c *RPCClient) CommitteeHash(ctx context.Context, slot uint64) (string, error) {
	var result string
	err := c.call(ctx, "get_committee_hash", []any{slot}, &result)
	return result, err
}

func (c *RPCClient) SubmitUpdate(ctx context.Context, job *domain.Job) (string, error) {
	c.submitMu.Lock()
	defer c.submitMu.Unlock()

	params := map[string]any{
		"contract": c.cfg.ContractAddress,
		"account":  c.cfg.AccountAddress,
		"kind":     string(job.Kind),
		"proof":    job.WrapperBatchID,
	}
	var txHash string
	if err := c.call(ctx, "submit_update", []any{params}, &txHash); err != nil {
		return "", err
	}
	return txHash, nil
}

func (c *RPCClient) WaitForConfirmation(ctx context.Context, txHash string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		var status string
		if err := c.call(ctx, "get_transaction_status", []any{txHash}, &status); err != nil {
			return err
		}
		switch status {
		case "ACCEPTED":
			return nil
		case "REJECTED":
			return fmt.Errorf("transaction %s rejected on-chain", txHash)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *RPCClient) callUint(ctx context.Context, method string) (uint64, error) {
	var result uint64
	err := c.call(ctx, method, nil, &result)
	return result, err
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RPCURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("settlement call %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("settlement call %s returned %d", method, resp.StatusCode)
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("failed to decode settlement response %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("settlement call %s: rpc error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode settlement result %s: %w", method, err)
	}
	return nil
}
