// Package relay implements the HTTP client for the relay service contract
// (C7): revocation notification/check, cached-snapshot storage and
// retrieval, and key-rotation fan-out. It satisfies pkg/capability's
// RelayNotifier and pkg/snapshot's Pusher interfaces structurally — neither
// of those packages imports this one.
package relay

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vaultd/pkg/capability"
	"github.com/cuemby/vaultd/pkg/identity"
	"github.com/cuemby/vaultd/pkg/metrics"
	"github.com/cuemby/vaultd/pkg/vault"
)

// DefaultTimeout is the per-request timeout for every relay call.
const DefaultTimeout = 10 * time.Second

// Client wraps the relay's REST API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a relay client. tlsClient, if non-nil, is used as the
// underlying *http.Client (e.g. one configured with mTLS client certs);
// otherwise a client with DefaultTimeout is created.
func NewClient(baseURL, authToken string, tlsClient *http.Client, logger zerolog.Logger) *Client {
	hc := tlsClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	} else if hc.Timeout == 0 {
		hc.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authToken:  authToken,
		httpClient: hc,
		logger:     logger,
	}
}

// NotifyRevocation posts a signed revocation message to the relay.
// Satisfies capability.RelayNotifier.
func (c *Client) NotifyRevocation(ctx context.Context, msg capability.RevocationMessage) error {
	return c.do(ctx, "notify_revocation", http.MethodPost, "/v1/revocations", msg, nil)
}

// CheckRevocation asks the relay whether capabilityID is known revoked.
// Non-authoritative: an unreachable relay returns (false, false, nil)
// rather than an error, per spec — callers must not treat false as "not
// revoked" when relayReachable is false. Satisfies capability.RelayNotifier.
func (c *Client) CheckRevocation(ctx context.Context, capabilityID string) (revoked bool, relayReachable bool, err error) {
	var result struct {
		Revoked bool `json:"revoked"`
	}
	if getErr := c.do(ctx, "check_revocation", http.MethodGet, "/v1/revocations/"+capabilityID, nil, &result); getErr != nil {
		return false, false, nil
	}
	return result.Revoked, true, nil
}

// snapshotWire is the JSON-over-the-wire shape of a vault.CachedSnapshot,
// base64-encoding the binary fields.
type snapshotWire struct {
	CapabilityID        string    `json:"capability_id"`
	EncryptedData       string    `json:"encrypted_data"`
	EphemeralPub        string    `json:"ephemeral_pub"`
	Nonce               string    `json:"nonce"`
	Tag                 string    `json:"tag"`
	Signature           string    `json:"signature"`
	IssuerSigningPub    string    `json:"issuer_signing_pub"`
	RecipientEncryption string    `json:"recipient_encryption_pub"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

func toWire(s *vault.CachedSnapshot) snapshotWire {
	enc := base64.StdEncoding.EncodeToString
	return snapshotWire{
		CapabilityID:        s.CapabilityID,
		EncryptedData:       enc(s.EncryptedData),
		EphemeralPub:        enc(s.EphemeralPub),
		Nonce:               enc(s.Nonce),
		Tag:                 enc(s.Tag),
		Signature:           enc(s.Signature),
		IssuerSigningPub:    enc(s.IssuerSigningPub),
		RecipientEncryption: enc(s.RecipientEncryption),
		CreatedAt:           s.CreatedAt,
		ExpiresAt:           s.ExpiresAt,
	}
}

func fromWire(w snapshotWire) (*vault.CachedSnapshot, error) {
	dec := base64.StdEncoding.DecodeString
	encryptedData, err := dec(w.EncryptedData)
	if err != nil {
		return nil, err
	}
	ephemeralPub, err := dec(w.EphemeralPub)
	if err != nil {
		return nil, err
	}
	nonce, err := dec(w.Nonce)
	if err != nil {
		return nil, err
	}
	tag, err := dec(w.Tag)
	if err != nil {
		return nil, err
	}
	sig, err := dec(w.Signature)
	if err != nil {
		return nil, err
	}
	issuerPub, err := dec(w.IssuerSigningPub)
	if err != nil {
		return nil, err
	}
	recipientPub, err := dec(w.RecipientEncryption)
	if err != nil {
		return nil, err
	}
	return &vault.CachedSnapshot{
		CapabilityID:        w.CapabilityID,
		EncryptedData:       encryptedData,
		EphemeralPub:        ephemeralPub,
		Nonce:               nonce,
		Tag:                 tag,
		Signature:           sig,
		IssuerSigningPub:    issuerPub,
		RecipientEncryption: recipientPub,
		CreatedAt:           w.CreatedAt,
		ExpiresAt:           w.ExpiresAt,
	}, nil
}

// StoreSnapshot pushes a cached snapshot to the relay. Satisfies
// pkg/snapshot's Pusher interface.
func (c *Client) StoreSnapshot(ctx context.Context, snap *vault.CachedSnapshot) error {
	return c.do(ctx, "store_snapshot", http.MethodPost, "/v1/snapshots", toWire(snap), nil)
}

// GetSnapshot retrieves the most recent snapshot for a capability, with a
// proof-of-possession token proving the caller is the capability's subject.
func (c *Client) GetSnapshot(ctx context.Context, capabilityID, proofOfPossession string) (*vault.CachedSnapshot, error) {
	var w snapshotWire
	path := fmt.Sprintf("/v1/snapshots/%s?proof=%s", capabilityID, proofOfPossession)
	if err := c.do(ctx, "get_snapshot", http.MethodGet, path, nil, &w); err != nil {
		return nil, err
	}
	return fromWire(w)
}

// ListSnapshots lists pending/stored snapshot metadata for a subject,
// authenticated by proofOfPossession.
func (c *Client) ListSnapshots(ctx context.Context, subjectSigningPub, proofOfPossession string) ([]string, error) {
	var result struct {
		CapabilityIDs []string `json:"capability_ids"`
	}
	path := fmt.Sprintf("/v1/snapshots?subject=%s&proof=%s", subjectSigningPub, proofOfPossession)
	if err := c.do(ctx, "list_snapshots", http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.CapabilityIDs, nil
}

// NotifyKeyRotation broadcasts a signed rotation notification through the
// relay to affected subjects.
func (c *Client) NotifyKeyRotation(ctx context.Context, n *identity.RotationNotification) error {
	return c.do(ctx, "notify_key_rotation", http.MethodPost, "/v1/rotations", n, nil)
}

func (c *Client) do(ctx context.Context, operation, method, path string, body, result any) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RelayRequestsTotal.WithLabelValues(operation, status).Inc()
		timer.ObserveDurationVec(metrics.RelayRequestDuration, operation)
	}()

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("relay: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("relay request failed")
		return fmt.Errorf("relay: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("relay: %s %s: status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("relay: decode response: %w", err)
		}
	}
	return nil
}
