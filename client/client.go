// Package client is the synchronous gateway between the audit pipeline
// and a ledger node. Every call re-validates that the configured
// endpoint resolves to loopback or private address space, commits block
// until confirmed, and transient failures are retried a bounded number
// of times with increasing backoff.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"wipeledger/internal/ledger"
	"wipeledger/internal/logger"
	"wipeledger/internal/proof"
)

const (
	// defaultMaxAttempts is the total number of commit attempts on
	// transient failure: one initial try plus two retries.
	defaultMaxAttempts = 3

	// defaultRetryBase is the backoff before the first retry; it
	// doubles after each failed attempt.
	defaultRetryBase = time.Second

	// defaultRequestTimeout bounds each individual attempt, not the
	// whole retry sequence.
	defaultRequestTimeout = 30 * time.Second
)

// Client-side error classes. Ledger errors (access control, duplicate,
// validation, paused, not found) propagate as the ledger package
// sentinels and are never retried.
var (
	// ErrConnectivity indicates the endpoint is not local and was
	// rejected before any network interaction.
	ErrConnectivity = errors.New("endpoint is not local")

	// ErrTransaction indicates a reachable ledger kept failing
	// transiently until the retry budget was exhausted.
	ErrTransaction = errors.New("ledger transaction failed")
)

// Config holds client settings.
type Config struct {
	// Endpoint is the ledger node address, e.g. "127.0.0.1:8080".
	Endpoint string

	// Operator is the identity used for commits.
	Operator common.Address

	// MaxAttempts is the total attempt budget per commit (default 3).
	MaxAttempts int

	// RetryBase is the initial backoff between attempts (default 1s).
	RetryBase time.Duration

	// RequestTimeout bounds each attempt (default 30s).
	RequestTimeout time.Duration
}

// CommitReceipt confirms a successful commit.
type CommitReceipt struct {
	TxID     string        // TxID is the ledger transaction id
	Sequence uint64        // Sequence is the ledger sequence number
	Record   ledger.Record // Record is the confirmed record snapshot
}

// Bundle converts the receipt into the privacy-safe proof payload.
func (r CommitReceipt) Bundle() proof.Bundle {
	return r.Record.Bundle()
}

// Status is the ledger node status summary.
type Status struct {
	Admin   common.Address // Admin is the ledger administrator
	Records int            // Records is the committed record count
	Paused  bool           // Paused reports the administrative pause flag
}

// Client talks to one ledger node over HTTP.
type Client struct {
	cfg   Config
	httpc *http.Client
}

// New creates a client for the given configuration and verifies the
// endpoint locality once up front. The check repeats on every call, so
// a later reconfiguration to a remote target still fails.
func New(cfg Config) (*Client, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	c := &Client{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.RequestTimeout},
	}

	if err := c.checkEndpoint(context.Background()); err != nil {
		return nil, err
	}

	return c, nil
}

// Commit submits a record for the device and blocks until the ledger
// confirms or the attempt budget is exhausted. Transient failures
// (network errors, node-side 5xx) are retried with doubling backoff;
// ledger rejections propagate immediately and are never retried.
func (c *Client) Commit(ctx context.Context, deviceID string, digest proof.Digest) (CommitReceipt, error) {
	if err := c.checkEndpoint(ctx); err != nil {
		return CommitReceipt{}, err
	}

	body := map[string]any{
		"device_id": deviceID,
		"digest":    digest.Hex(),
		"operator":  c.cfg.Operator.Hex(),
	}

	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		var resp recordResponse

		err := c.postJSON(ctx, "/commit", body, &resp)
		if err == nil {
			rec, derr := resp.toRecord()
			if derr != nil {
				return CommitReceipt{}, derr
			}

			return CommitReceipt{
				TxID:     rec.TxID.Hex(),
				Sequence: rec.Sequence,
				Record:   rec,
			}, nil
		}

		if !transient(err) {
			return CommitReceipt{}, err
		}

		lastErr = err
		logger.Warn("commit attempt failed",
			"device_id", deviceID,
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
		)

		if attempt < c.cfg.MaxAttempts {
			if err := c.backoff(ctx, attempt); err != nil {
				return CommitReceipt{}, err
			}
		}
	}

	return CommitReceipt{}, fmt.Errorf("%w after %d attempts:\n%v", ErrTransaction, c.cfg.MaxAttempts, lastErr)
}

// backoff sleeps for the attempt's backoff delay, honoring cancellation.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.cfg.RetryBase << (attempt - 1)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get retrieves the committed record for a device.
func (c *Client) Get(ctx context.Context, deviceID string) (ledger.Record, error) {
	if err := c.checkEndpoint(ctx); err != nil {
		return ledger.Record{}, err
	}

	var resp recordResponse
	if err := c.getJSON(ctx, "/record/"+url.PathEscape(deviceID), &resp); err != nil {
		return ledger.Record{}, err
	}

	return resp.toRecord()
}

// Verify asks the ledger whether the device's digest equals expected.
// An absent device yields false, not an error.
func (c *Client) Verify(ctx context.Context, deviceID string, expected proof.Digest) (bool, error) {
	if err := c.checkEndpoint(ctx); err != nil {
		return false, err
	}

	var resp struct {
		Match bool `json:"match"`
	}

	query := url.Values{}
	query.Set("device", deviceID)
	query.Set("digest", expected.Hex())

	if err := c.getJSON(ctx, "/verify?"+query.Encode(), &resp); err != nil {
		return false, err
	}

	return resp.Match, nil
}

// Processed reports whether the device already has a ledger record.
func (c *Client) Processed(ctx context.Context, deviceID string) (bool, error) {
	if err := c.checkEndpoint(ctx); err != nil {
		return false, err
	}

	var resp struct {
		Processed bool `json:"processed"`
	}

	if err := c.getJSON(ctx, "/processed/"+url.PathEscape(deviceID), &resp); err != nil {
		return false, err
	}

	return resp.Processed, nil
}

// Status fetches the ledger node status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	if err := c.checkEndpoint(ctx); err != nil {
		return Status{}, err
	}

	var resp struct {
		Admin   string `json:"admin"`
		Records int    `json:"records"`
		Paused  bool   `json:"paused"`
	}

	if err := c.getJSON(ctx, "/status", &resp); err != nil {
		return Status{}, err
	}

	return Status{
		Admin:   common.HexToAddress(resp.Admin),
		Records: resp.Records,
		Paused:  resp.Paused,
	}, nil
}

// Authorize adds an operator to the ledger registry as the given
// administrator identity.
func (c *Client) Authorize(ctx context.Context, operator, by common.Address) error {
	return c.registryCall(ctx, "/operators/authorize", operator, by)
}

// Revoke removes an operator from the ledger registry.
func (c *Client) Revoke(ctx context.Context, operator, by common.Address) error {
	return c.registryCall(ctx, "/operators/revoke", operator, by)
}

// Export downloads a compressed ledger archive for offline audit.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	if err := c.checkEndpoint(ctx); err != nil {
		return nil, err
	}

	return c.getRaw(ctx, "/export")
}

// Pause halts commits on the ledger as the given administrator.
func (c *Client) Pause(ctx context.Context, by common.Address) error {
	return c.pauseCall(ctx, "/pause", by)
}

// Unpause resumes commits on the ledger.
func (c *Client) Unpause(ctx context.Context, by common.Address) error {
	return c.pauseCall(ctx, "/unpause", by)
}

// pauseCall performs a pause state mutation.
func (c *Client) pauseCall(ctx context.Context, path string, by common.Address) error {
	if err := c.checkEndpoint(ctx); err != nil {
		return err
	}

	body := map[string]string{"by": by.Hex()}

	var resp struct {
		Status string `json:"status"`
	}

	return c.postJSON(ctx, path, body, &resp)
}

// registryCall performs an operator registry mutation.
func (c *Client) registryCall(ctx context.Context, path string, operator, by common.Address) error {
	if err := c.checkEndpoint(ctx); err != nil {
		return err
	}

	body := map[string]string{
		"operator": operator.Hex(),
		"by":       by.Hex(),
	}

	var resp struct {
		Status string `json:"status"`
	}

	return c.postJSON(ctx, path, body, &resp)
}
