// Package capability implements capability token issuance, verification,
// execution, revocation, and reissuance (C4).
package capability

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/vaultd/pkg/audit"
	"github.com/cuemby/vaultd/pkg/cryptoprim"
	"github.com/cuemby/vaultd/pkg/integration"
	"github.com/cuemby/vaultd/pkg/metrics"
	"github.com/cuemby/vaultd/pkg/vault"
)

// RevocationMessage is the signed payload sent to the relay on revocation.
type RevocationMessage struct {
	Type           string `json:"type"`
	CapabilityID   string `json:"capability_id"`
	IssuerKeyID    string `json:"issuer_key_id"`
	RevokedAt      int64  `json:"revoked_at"`
	SignatureByIss string `json:"signature_by_issuer"`
}

// RelayNotifier is the subset of the relay client contract (C7) this
// package needs. Defined here, implemented by *relay.Client, so this
// package never imports pkg/relay.
type RelayNotifier interface {
	NotifyRevocation(ctx context.Context, msg RevocationMessage) error
	CheckRevocation(ctx context.Context, capabilityID string) (revoked bool, relayReachable bool, err error)
}

// IssueOptions carries the optional fields accepted by IssueCapability.
type IssueOptions struct {
	SubjectEncryptionPub []byte
	Tier                 vault.SharingTier // defaults to TierLive
	MaxCalls             *int
	CacheRefreshInterval *int // seconds, defaults to 3600 when Tier is CACHED

	// Audit, if non-nil, receives a capability.issued record. Actor
	// identifies who requested the issuance (e.g. an agent id).
	Audit *audit.Logger
	Actor string
}

// IssueResult is what IssueCapability returns to the caller.
type IssueResult struct {
	ID    string
	Token string
}

func newGrantID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("capability: generate id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// IssueCapability mints a new capability grant and its self-describing
// token. Preconditions: vault unlocked (enforced by WithDocument); resource
// exists in integrations; if tier=CACHED, SubjectEncryptionPub supplied.
func IssueCapability(v *vault.Vault, subjectSigningPub []byte, resource string, scope []string, expiresIn time.Duration, opts IssueOptions) (*IssueResult, error) {
	tier := opts.Tier
	if tier == "" {
		tier = vault.TierLive
	}
	if tier == vault.TierCached && len(opts.SubjectEncryptionPub) == 0 {
		return nil, ErrCachedRequiresEncKey
	}

	id, err := newGrantID()
	if err != nil {
		return nil, err
	}

	var result *IssueResult
	err = v.WithDocument(func(doc *vault.Document) error {
		if !integration.Exists(doc, resource) {
			return ErrResourceMissing
		}

		now := time.Now().UTC()
		grant := &vault.CapabilityGrant{
			ID:                   id,
			SubjectSigningPub:    subjectSigningPub,
			SubjectEncryptionPub: opts.SubjectEncryptionPub,
			Resource:             resource,
			Scope:                scope,
			Expires:              now.Add(expiresIn),
			MaxCalls:             opts.MaxCalls,
			CallCount:            0,
			Revoked:              false,
			IssuedAt:             now,
			Tier:                 tier,
		}
		if tier == vault.TierCached {
			interval := 3600
			if opts.CacheRefreshInterval != nil {
				interval = *opts.CacheRefreshInterval
			}
			grant.CacheRefreshInterval = &interval
		}

		doc.Grants[id] = grant
		doc.CapabilityVersion[id] = doc.Identity.Current.Version

		tok := Token{
			V:          tokenVersion,
			ID:         id,
			Iss:        base64.StdEncoding.EncodeToString(doc.Identity.Current.SigningPub),
			IssEnc:     base64.StdEncoding.EncodeToString(doc.Identity.Current.EncryptionPub),
			Sub:        base64.StdEncoding.EncodeToString(subjectSigningPub),
			Resource:   resource,
			Scope:      scope,
			Tier:       string(tier),
			Iat:        now.Unix(),
			Exp:        grant.Expires.Unix(),
			KeyVersion: doc.Identity.Current.Version,
			KeyID:      doc.Identity.Current.KeyID,
		}
		if len(opts.SubjectEncryptionPub) > 0 {
			tok.SubEnc = base64.StdEncoding.EncodeToString(opts.SubjectEncryptionPub)
		}
		if opts.MaxCalls != nil {
			tok.Constraints = &Constraints{MaxCalls: opts.MaxCalls}
		}
		if err := sign(&tok, doc.Identity.Current.SigningPriv); err != nil {
			return err
		}
		encoded, err := encodeToken(tok)
		if err != nil {
			return err
		}
		result = &IssueResult{ID: id, Token: encoded}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.CapabilitiesIssuedTotal.WithLabelValues(string(tier)).Inc()
	opts.Audit.LogJSON(result.ID, "capability.issue", opts.Actor, map[string]any{
		"resource": resource,
		"scope":    scope,
		"tier":     string(tier),
	})
	return result, nil
}

// VerifyAndLoadReceived decodes token, verifies its signature under the
// embedded issuer key, asserts it is not expired, and stores a
// ReceivedCapability indexed by id. It does not itself grant access.
func VerifyAndLoadReceived(v *vault.Vault, token, issuerContainerID string) (string, error) {
	tok, err := decodeToken(token)
	if err != nil {
		return "", err
	}
	issuerPub, err := base64.StdEncoding.DecodeString(tok.Iss)
	if err != nil {
		return "", ErrMalformedToken
	}
	if err := verify(tok, issuerPub); err != nil {
		return "", err
	}
	if isExpired(tok, time.Now().UTC()) {
		return "", ErrExpired
	}

	err = v.WithDocument(func(doc *vault.Document) error {
		rc := &vault.ReceivedCapability{
			ID:                tok.ID,
			IssuerSigningPub:  issuerPub,
			IssuerContainerID: issuerContainerID,
			Resource:          tok.Resource,
			Scope:             tok.Scope,
			Expires:           time.Unix(tok.Exp, 0).UTC(),
			Token:             token,
			Tier:              vault.SharingTier(tok.Tier),
		}
		if tok.IssEnc != "" {
			if pub, derr := base64.StdEncoding.DecodeString(tok.IssEnc); derr == nil {
				rc.IssuerEncryptionPub = pub
			}
		}
		doc.ReceivedCaps[tok.ID] = rc
		return nil
	})
	if err != nil {
		return "", err
	}
	return tok.ID, nil
}

// ExecuteResult is what ExecuteCapability returns on success.
type ExecuteResult struct {
	AccessToken string
	Operation   string
	Params      map[string]any
}

// ExecuteOptions carries the optional fields accepted by ExecuteCapability.
type ExecuteOptions struct {
	// Audit, if non-nil, receives one capability.executed or
	// capability.execution_failed record per call.
	Audit *audit.Logger
	Actor string
}

// executeFailureLabel maps an ExecuteCapability error to the Prometheus
// "result" label and the detail recorded in the failure's audit entry.
func executeFailureLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrScopeViolation):
		return "scope_violation"
	case errors.Is(err, ErrRevoked):
		return "revoked"
	case errors.Is(err, ErrOverused):
		return "overused"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrResourceMissing):
		return "not_found"
	default:
		return "error"
	}
}

// ExecuteCapability runs the issuer-side precondition chain from spec
// §4.4 in order: decode, verify signature under iss, check expiry, check
// scope, look up the grant, check revoked, check/increment call count,
// look up the integration.
func ExecuteCapability(v *vault.Vault, token, operation string, params map[string]any, opts ExecuteOptions) (result *ExecuteResult, err error) {
	var groupID string
	defer func() {
		label := executeFailureLabel(err)
		metrics.CapabilityVerificationsTotal.WithLabelValues(label).Inc()
		detail := map[string]any{"operation": operation}
		if err != nil {
			detail["error"] = err.Error()
			opts.Audit.LogJSON(groupID, "capability.execute_err", opts.Actor, detail)
		} else {
			opts.Audit.LogJSON(groupID, "capability.execute_ok", opts.Actor, detail)
		}
	}()

	tok, err := decodeToken(token)
	if err != nil {
		return nil, err
	}
	groupID = tok.ID
	issuerPub, err := base64.StdEncoding.DecodeString(tok.Iss)
	if err != nil {
		return nil, ErrMalformedToken
	}
	if err = verify(tok, issuerPub); err != nil {
		return nil, err
	}
	if isExpired(tok, time.Now().UTC()) {
		return nil, ErrExpired
	}
	if !scopeAllows(tok.Scope, operation) {
		return nil, ErrScopeViolation
	}

	err = v.WithDocument(func(doc *vault.Document) error {
		grant, ok := doc.Grants[tok.ID]
		if !ok {
			return ErrNotFound
		}
		if grant.Revoked {
			return ErrRevoked
		}
		if grant.MaxCalls != nil {
			if grant.CallCount >= *grant.MaxCalls {
				return ErrOverused
			}
			grant.CallCount++
		}
		in, ok := doc.Integrations[grant.Resource]
		if !ok {
			return ErrResourceMissing
		}
		result = &ExecuteResult{
			AccessToken: in.AccessToken,
			Operation:   operation,
			Params:      params,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func scopeAllows(scope []string, operation string) bool {
	for _, s := range scope {
		if s == "*" || s == operation {
			return true
		}
	}
	return false
}

// RevokeOptions controls RevokeCapability's relay notification behavior.
type RevokeOptions struct {
	SkipRelayNotification bool

	// Reason labels the capabilities_revoked_total metric and the audit
	// detail; defaults to "manual" when empty.
	Reason string
	Audit  *audit.Logger
	Actor  string
}

// RevokeResult is what RevokeCapability returns.
type RevokeResult struct {
	Revoked       bool
	RelayNotified bool
	RelayError    string
}

// RevokeCapability marks the grant revoked (idempotently) and, unless
// skipped, notifies the relay with a signed revocation message.
func RevokeCapability(ctx context.Context, v *vault.Vault, notifier RelayNotifier, id string, opts RevokeOptions) (*RevokeResult, error) {
	var (
		alreadyRevoked bool
		issuerKeyID    string
		signingPriv    []byte
	)
	err := v.WithDocument(func(doc *vault.Document) error {
		grant, ok := doc.Grants[id]
		if !ok {
			return ErrNotFound
		}
		alreadyRevoked = grant.Revoked
		grant.Revoked = true
		issuerKeyID = doc.Identity.Current.KeyID
		signingPriv = doc.Identity.Current.SigningPriv
		return nil
	})
	if err != nil {
		return nil, err
	}

	reason := opts.Reason
	if reason == "" {
		reason = "manual"
	}
	if !alreadyRevoked {
		metrics.CapabilitiesRevokedTotal.WithLabelValues(reason).Inc()
		opts.Audit.LogJSON(id, "capability.revoke", opts.Actor, map[string]any{"reason": reason})
	}

	result := &RevokeResult{Revoked: true}
	if opts.SkipRelayNotification || notifier == nil {
		return result, nil
	}
	if alreadyRevoked {
		result.RelayNotified = true
		return result, nil
	}

	msg := RevocationMessage{
		Type:         "revocation",
		CapabilityID: id,
		IssuerKeyID:  issuerKeyID,
		RevokedAt:    time.Now().UTC().Unix(),
	}
	sig := cryptoprim.Sign(ed25519.PrivateKey(signingPriv), revocationSigningInput(msg))
	msg.SignatureByIss = base64.StdEncoding.EncodeToString(sig)

	if err := notifier.NotifyRevocation(ctx, msg); err != nil {
		result.RelayError = err.Error()
		return result, nil
	}
	result.RelayNotified = true
	return result, nil
}

func revocationSigningInput(msg RevocationMessage) []byte {
	return []byte(fmt.Sprintf("%s|%s|%s|%d", msg.Type, msg.CapabilityID, msg.IssuerKeyID, msg.RevokedAt))
}

// CheckRelayRevocation is a pure, non-authoritative lookup against the
// relay: it never overrides the local record. relayReachable tells the
// caller whether to trust the returned revoked value.
func CheckRelayRevocation(ctx context.Context, notifier RelayNotifier, id string) (revoked bool, relayReachable bool, err error) {
	if notifier == nil {
		return false, false, nil
	}
	return notifier.CheckRevocation(ctx, id)
}

// GetCapabilitiesNeedingReissue returns the IDs of non-revoked,
// non-expired grants whose recorded key version is below the identity's
// current version.
func GetCapabilitiesNeedingReissue(doc *vault.Document) []string {
	current := doc.Identity.Current.Version
	now := time.Now()
	var ids []string
	for id, g := range doc.Grants {
		if g.Revoked || now.After(g.Expires) {
			continue
		}
		if v, ok := doc.CapabilityVersion[id]; ok && v < current {
			ids = append(ids, id)
		}
	}
	return ids
}

// Reissue mints a fresh token for id under the current signing key,
// preserving subject, resource, scope, remaining lifetime, max_calls,
// tier, and cache_refresh_interval. The new id differs from the old one.
// If revokeOld is true, the old grant is revoked (triggering relay
// notification through the same path as RevokeCapability, when notifier
// is non-nil). log and actor, if set, are attached to both the
// capability.issue record for the new token and the capability.revoke
// record for the old one.
func Reissue(ctx context.Context, v *vault.Vault, notifier RelayNotifier, id string, revokeOld bool, log *audit.Logger, actor string) (*IssueResult, error) {
	var (
		subjectPub   []byte
		subjectEnc   []byte
		resource     string
		scope        []string
		remaining    time.Duration
		maxCalls     *int
		tier         vault.SharingTier
		refreshIntvl *int
	)
	err := v.ViewDocument(func(doc *vault.Document) {
		if g, ok := doc.Grants[id]; ok {
			subjectPub = g.SubjectSigningPub
			subjectEnc = g.SubjectEncryptionPub
			resource = g.Resource
			scope = g.Scope
			remaining = time.Until(g.Expires)
			maxCalls = g.MaxCalls
			tier = g.Tier
			refreshIntvl = g.CacheRefreshInterval
		}
	})
	if err != nil {
		return nil, err
	}
	if resource == "" {
		return nil, ErrNotFound
	}

	result, err := IssueCapability(v, subjectPub, resource, scope, remaining, IssueOptions{
		SubjectEncryptionPub: subjectEnc,
		Tier:                 tier,
		MaxCalls:             maxCalls,
		CacheRefreshInterval: refreshIntvl,
		Audit:                log,
		Actor:                actor,
	})
	if err != nil {
		return nil, err
	}

	if revokeOld {
		if _, err := RevokeCapability(ctx, v, notifier, id, RevokeOptions{Reason: "reissued", Audit: log, Actor: actor}); err != nil {
			return result, err
		}
	}
	log.LogJSON(result.ID, "capability.reissue", actor, map[string]any{"old_id": id})
	return result, nil
}
