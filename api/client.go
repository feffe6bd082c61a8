package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmcleod/halflife/validator"
)

// ValidatorClient reaches a remote validator's validate endpoint and
// satisfies validator.Client, so remote nodes can join a quorum alongside
// in-process ones.
type ValidatorClient struct {
	baseURL string
	client  *http.Client
}

var _ validator.Client = (*ValidatorClient)(nil)

// NewValidatorClient creates a client for the validator hosted at
// baseURL (e.g. "http://validator-1:8080/v1").
func NewValidatorClient(baseURL string, client *http.Client) *ValidatorClient {
	if client == nil {
		client = &http.Client{Timeout: validator.DefaultQueryTimeout}
	}
	return &ValidatorClient{baseURL: baseURL, client: client}
}

// Validate implements the validator RPC contract over HTTP.
func (c *ValidatorClient) Validate(ctx context.Context, req validator.Request) (validator.Response, error) {
	body, err := json.Marshal(ValidateRequest{
		FragmentID:    req.FragmentID,
		ClaimedExpiry: req.ClaimedExpiry,
		ClaimedHash:   req.ClaimedHash,
		Now:           req.Now,
	})
	if err != nil {
		return validator.Response{}, fmt.Errorf("encoding validate request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate", bytes.NewReader(body))
	if err != nil {
		return validator.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return validator.Response{}, fmt.Errorf("validator unreachable: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return validator.Response{}, fmt.Errorf("validator returned status %d", httpResp.StatusCode)
	}

	var resp ValidateResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return validator.Response{}, fmt.Errorf("decoding validate response: %w", err)
	}
	return validator.Response{
		Valid:     resp.Valid,
		Remaining: time.Duration(resp.RemainingSeconds * float64(time.Second)),
	}, nil
}
