package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/ledger"
	"wipeledger/internal/proof"
)

// recordResponse is the wire shape of a ledger record.
type recordResponse struct {
	DeviceID  string `json:"device_id"`
	Digest    string `json:"digest"`
	Timestamp string `json:"timestamp"`
	Operator  string `json:"operator"`
	Sequence  uint64 `json:"sequence"`
	TxID      string `json:"tx_id"`
}

// toRecord parses the wire record into a ledger.Record.
func (r recordResponse) toRecord() (ledger.Record, error) {
	digest, err := proof.ParseDigest(r.Digest)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("invalid record digest:\n%w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return ledger.Record{}, fmt.Errorf("invalid record timestamp:\n%w", err)
	}

	return ledger.Record{
		DeviceID:  r.DeviceID,
		Digest:    digest,
		Timestamp: ts,
		Operator:  common.HexToAddress(r.Operator),
		Sequence:  r.Sequence,
		TxID:      common.HexToHash(r.TxID),
	}, nil
}

// errorResponse is the wire shape of a node error.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// postJSON performs a POST with JSON body and decodes the JSON response.
// One call is one attempt: the request timeout applies here, not to the
// caller's whole retry sequence.
func (c *Client) postJSON(ctx context.Context, path string, body any, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body:\n%w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

// getJSON performs a GET request and decodes the JSON response.
func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

// getRaw performs a GET request and returns the raw response body.
func (c *Client) getRaw(ctx context.Context, path string) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s:\n%w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp)
	}

	return io.ReadAll(resp.Body)
}

// newRequest builds a request against the configured endpoint.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+c.cfg.Endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request:\n%w", err)
	}

	return req, nil
}

// do executes the request and decodes the response, mapping node error
// codes back to ledger sentinel errors. The HTTP client timeout bounds
// one attempt, not the caller's whole retry sequence.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s:\n%w", req.Method, req.URL.Path, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}

	if result == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// decodeError converts a node error response into a sentinel-wrapped
// error. Unknown codes and 5xx responses stay generic so the caller's
// transient classification can retry them.
func decodeError(resp *http.Response) error {
	var wire errorResponse
	_ = json.NewDecoder(resp.Body).Decode(&wire)

	if sentinel := ledger.FromCode(wire.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, wire.Error)
	}

	return fmt.Errorf("node returned status %d: %s", resp.StatusCode, wire.Error)
}

// transient reports whether an error may be retried. Ledger rejections,
// locality rejections, and caller cancellation are final; everything
// else (network failures, timeouts, node-side 5xx) is transient.
func transient(err error) bool {
	switch {
	case errors.Is(err, ledger.ErrValidation),
		errors.Is(err, ledger.ErrAccessControl),
		errors.Is(err, ledger.ErrDuplicateRecord),
		errors.Is(err, ledger.ErrPaused),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, ErrConnectivity),
		errors.Is(err, context.Canceled):
		return false
	}

	return true
}
