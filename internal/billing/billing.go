// Package billing performs the outbound charge call against the billing
// endpoint. The endpoint is a plain request/response HTTP service with no
// idempotency support: a 2xx response means the customer has been billed and
// there is no way to ask twice safely. Duplicate prevention therefore lives
// entirely in the caller's row locking, not here.
package billing

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/aturkewi/billsweep/internal/store"
)

// Config holds the endpoint settings for a Client.
type Config struct {
	URL string
	// SigningSecret enables an HMAC-SHA256 signature over "timestamp.body"
	// when non-empty. The endpoint may ignore it.
	SigningSecret string
}

// Client posts charge requests to the billing endpoint. It implements
// claim.Biller. The http.Client is injected: production wires the
// safeurl-wrapped client from BuildSafeClient, tests use a plain one.
type Client struct {
	http *http.Client
	cfg  Config
}

// NewClient creates a Client that charges via client against cfg.URL.
func NewClient(client *http.Client, cfg Config) *Client {
	return &Client{http: client, cfg: cfg}
}

// chargeRequest is the wire payload for one charge call.
type chargeRequest struct {
	ItemID      string `json:"item_id"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
}

// Bill performs exactly one charge call for item. Any transport error or
// non-2xx status is returned unmodified in meaning: no retries, no
// reinterpretation — the caller decides what a failure means for the row.
func (c *Client) Bill(ctx context.Context, item store.Item) error {
	payload, err := json.Marshal(chargeRequest{
		ItemID:      item.ID.String(),
		CustomerID:  item.CustomerID,
		AmountCents: item.AmountCents,
	})
	if err != nil {
		return fmt.Errorf("encode charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	// HMAC-SHA256 over "timestamp.body" when a signing secret is configured.
	if c.cfg.SigningSecret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		mac := hmac.New(sha256.New, []byte(c.cfg.SigningSecret))
		mac.Write([]byte(ts + "." + string(payload)))
		req.Header.Set("X-Billsweep-Timestamp", ts)
		req.Header.Set("X-Billsweep-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("charge POST: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	// Discard response body to allow connection reuse; cap at 4 KiB.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("charge POST: unexpected status %d", resp.StatusCode)
	}
	return nil
}
