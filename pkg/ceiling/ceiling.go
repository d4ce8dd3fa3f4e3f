// Package ceiling implements the permission-ceiling policy engine (C6):
// per-agent permission ceilings, user grant-ceilings, and the escalation
// request workflow gating delegation beyond those ceilings.
package ceiling

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/cuemby/vaultd/pkg/approval"
	"github.com/cuemby/vaultd/pkg/audit"
	"github.com/cuemby/vaultd/pkg/capability"
	"github.com/cuemby/vaultd/pkg/metrics"
	"github.com/cuemby/vaultd/pkg/vault"
)

// Sentinel errors for the ceiling engine.
var (
	// ErrCeilingExceeded is returned by IssueCapabilityAsAgent when the
	// escalated subset is non-empty and request_escalation was false.
	ErrCeilingExceeded = errors.New("ceiling: requested scope exceeds agent ceiling")
	// ErrInsufficientPermissions is returned when an approver's or user's
	// own UserGrantCeiling does not cover the scope they are trying to
	// approve or delegate.
	ErrInsufficientPermissions = errors.New("ceiling: insufficient permissions")
	ErrNotFound                = errors.New("ceiling: escalation request not found")
	ErrNotPending              = errors.New("ceiling: escalation request is not pending")
)

// CeilingExceededDetail carries the partitioned sets for a CeilingExceeded
// failure, per spec §7 ("carry the partitioned requested/ceiling/escalated
// sets").
type CeilingExceededDetail struct {
	Requested []string
	Ceiling   []vault.PermissionLevel
	Grantable []string
	Escalated []string
}

// CeilingExceededError wraps ErrCeilingExceeded with the partitioned sets
// so callers can inspect exactly what was refused.
type CeilingExceededError struct {
	Detail CeilingExceededDetail
}

func (e *CeilingExceededError) Error() string { return ErrCeilingExceeded.Error() }
func (e *CeilingExceededError) Unwrap() error  { return ErrCeilingExceeded }

// Partition splits requested (operation/permission-level strings) into
// grantable and escalated against ceiling. "Within ceiling" means the
// requested level's order is ≤ the highest order present in ceiling;
// strings that are not recognized permission levels are always escalated.
// The partition is total: grantable and escalated together account for
// every element of requested.
func Partition(requested []string, ceiling []vault.PermissionLevel) (grantable, escalated []string) {
	max := -1
	for _, lvl := range ceiling {
		if o, ok := vault.Order(lvl); ok && o > max {
			max = o
		}
	}
	for _, r := range requested {
		o, ok := vault.Order(vault.PermissionLevel(r))
		if ok && o <= max {
			grantable = append(grantable, r)
		} else {
			escalated = append(escalated, r)
		}
	}
	return grantable, escalated
}

func agentCeiling(doc *vault.Document, agentID string) []vault.PermissionLevel {
	if c, ok := doc.AgentCeilings[agentID]; ok {
		return c.Ceiling
	}
	return vault.DefaultAgentCeiling()
}

func userGrantCeiling(doc *vault.Document, userID string) []vault.PermissionLevel {
	if c, ok := doc.UserCeilings[userID]; ok {
		return c.Grantable
	}
	return vault.DefaultUserGrantCeiling()
}

func coversAll(ceiling []vault.PermissionLevel, requested []string) bool {
	_, escalated := Partition(requested, ceiling)
	return len(escalated) == 0
}

// IssueAsAgentOptions carries IssueCapabilityAsAgent's parameters beyond
// the agent identity.
type IssueAsAgentOptions struct {
	SubjectSigningPub    []byte
	Resource             string
	RequestedScope       []string
	ExpiresIn            time.Duration
	MaxCalls             *int
	RequestEscalation    bool
	SubjectEncryptionPub []byte
	Tier                 vault.SharingTier

	// Audit, if non-nil, receives records for the issuance and, when the
	// request escalates, for the escalation itself.
	Audit *audit.Logger
	Actor string

	// ApprovalCheck, if non-nil, is consulted synchronously before falling
	// back to a pending EscalationRequest per spec §4.9: an escalated
	// request is approved immediately through the external facility rather
	// than waiting on ApproveEscalation/DenyEscalation. ApprovalID
	// identifies the request to ApprovalCheck.
	ApprovalCheck approval.CheckFunc
	ApprovalID    string
}

// IssueResult mirrors capability.IssueResult for the token-minting path,
// or reports a pending escalation when the request was deferred.
type IssueResult struct {
	Capability *capability.IssueResult
	Escalation *vault.EscalationRequest
}

// IssueCapabilityAsAgent partitions the requested scope against agentID's
// ceiling. If nothing is escalated, it mints the capability directly via
// package capability. Otherwise: with RequestEscalation=false it fails
// CeilingExceeded; with RequestEscalation=true it first consults
// ApprovalCheck, if set, and mints the full requested scope when that
// reports approved; in every other case it persists a pending
// EscalationRequest and mints nothing yet.
func IssueCapabilityAsAgent(v *vault.Vault, agentID string, opts IssueAsAgentOptions) (*IssueResult, error) {
	var (
		grantable, escalated []string
		ceilingLevels         []vault.PermissionLevel
	)
	err := v.ViewDocument(func(doc *vault.Document) {
		ceilingLevels = agentCeiling(doc, agentID)
		grantable, escalated = Partition(opts.RequestedScope, ceilingLevels)
	})
	if err != nil {
		return nil, err
	}

	if len(escalated) == 0 {
		issued, err := capability.IssueCapability(v, opts.SubjectSigningPub, opts.Resource, grantable, opts.ExpiresIn, capability.IssueOptions{
			SubjectEncryptionPub: opts.SubjectEncryptionPub,
			Tier:                 opts.Tier,
			MaxCalls:             opts.MaxCalls,
			Audit:                opts.Audit,
			Actor:                opts.Actor,
		})
		if err != nil {
			return nil, err
		}
		return &IssueResult{Capability: issued}, nil
	}

	if !opts.RequestEscalation {
		return nil, &CeilingExceededError{Detail: CeilingExceededDetail{
			Requested: opts.RequestedScope,
			Ceiling:   ceilingLevels,
			Grantable: grantable,
			Escalated: escalated,
		}}
	}

	if opts.ApprovalCheck != nil {
		issued, _, err := approval.IssueWithApproval(v, opts.SubjectSigningPub, opts.Resource, opts.RequestedScope, opts.ExpiresIn, capability.IssueOptions{
			SubjectEncryptionPub: opts.SubjectEncryptionPub,
			Tier:                 opts.Tier,
			MaxCalls:             opts.MaxCalls,
			Audit:                opts.Audit,
			Actor:                opts.Actor,
		}, opts.ApprovalID, opts.ApprovalCheck)
		if err == nil {
			return &IssueResult{Capability: issued}, nil
		}
		if !errors.Is(err, approval.ErrNotApproved) {
			return nil, err
		}
		// Not yet approved: fall through to the pending EscalationRequest
		// path so ApproveEscalation/DenyEscalation remain available.
	}

	var req *vault.EscalationRequest
	err = v.WithDocument(func(doc *vault.Document) error {
		id := newEscalationID()
		req = &vault.EscalationRequest{
			ID:                id,
			AgentID:           agentID,
			Resource:          opts.Resource,
			RequestedScope:    opts.RequestedScope,
			GrantableSubset:   toPermissionLevels(grantable),
			EscalatedSubset:   toPermissionLevels(escalated),
			SubjectSigningPub: opts.SubjectSigningPub,
			ExpiresInSeconds:  int(opts.ExpiresIn.Seconds()),
			MaxCalls:          opts.MaxCalls,
			CreatedAt:         time.Now().UTC(),
			Status:            vault.EscalationPending,
		}
		doc.Escalations[id] = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.EscalationsRequestedTotal.Inc()
	opts.Audit.LogJSON(req.ID, "ceiling.escalate", opts.Actor, map[string]any{
		"agent_id": agentID,
		"resource": opts.Resource,
	})
	return &IssueResult{Escalation: req}, nil
}

func toPermissionLevels(ss []string) []vault.PermissionLevel {
	out := make([]vault.PermissionLevel, len(ss))
	for i, s := range ss {
		out[i] = vault.PermissionLevel(s)
	}
	return out
}

func newEscalationID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return "esc-" + hex.EncodeToString(buf)
}

// ApproveEscalation validates that approver's UserGrantCeiling covers the
// full requested scope, then mints the capability with that full scope and
// marks the request approved.
func ApproveEscalation(v *vault.Vault, requestID, approver string, log *audit.Logger) (*capability.IssueResult, error) {
	var (
		req          vault.EscalationRequest
		approverCeil []vault.PermissionLevel
		found        bool
	)
	err := v.ViewDocument(func(doc *vault.Document) {
		if r, ok := doc.Escalations[requestID]; ok {
			req = *r
			found = true
		}
		approverCeil = userGrantCeiling(doc, approver)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	if req.Status != vault.EscalationPending {
		return nil, ErrNotPending
	}
	if !coversAll(approverCeil, req.RequestedScope) {
		return nil, ErrInsufficientPermissions
	}

	issued, err := capability.IssueCapability(v, req.SubjectSigningPub, req.Resource, req.RequestedScope, time.Duration(req.ExpiresInSeconds)*time.Second, capability.IssueOptions{
		MaxCalls: req.MaxCalls,
		Audit:    log,
		Actor:    approver,
	})
	if err != nil {
		return nil, err
	}

	err = v.WithDocument(func(doc *vault.Document) error {
		r, ok := doc.Escalations[requestID]
		if !ok {
			return ErrNotFound
		}
		now := time.Now().UTC()
		r.Status = vault.EscalationApproved
		r.ResolvedBy = approver
		r.ResolvedAt = &now
		return nil
	})
	if err != nil {
		return issued, err
	}
	metrics.EscalationsResolvedTotal.WithLabelValues("approved").Inc()
	log.LogJSON(requestID, "ceiling.approve", approver, map[string]any{"resource": req.Resource})
	return issued, nil
}

// DenyEscalation marks a pending request denied with reason. log, if
// non-nil, receives a ceiling.deny record.
func DenyEscalation(v *vault.Vault, requestID, approver, reason string, log *audit.Logger) error {
	var req *vault.EscalationRequest
	err := v.WithDocument(func(doc *vault.Document) error {
		r, ok := doc.Escalations[requestID]
		if !ok {
			return ErrNotFound
		}
		if r.Status != vault.EscalationPending {
			return ErrNotPending
		}
		now := time.Now().UTC()
		r.Status = vault.EscalationDenied
		r.ResolvedBy = approver
		r.ResolvedAt = &now
		r.DenialReason = reason
		req = r
		return nil
	})
	if err != nil {
		return err
	}
	metrics.EscalationsResolvedTotal.WithLabelValues("denied").Inc()
	log.LogJSON(requestID, "ceiling.deny", approver, map[string]any{"resource": req.Resource, "reason": reason})
	return nil
}

// SetAgentCeilingWithValidation writes a new AgentCeiling for agentID, but
// only if userID's own UserGrantCeiling covers every level in the new
// ceiling. Fails InsufficientPermissions and leaves any existing
// AgentCeiling unchanged otherwise.
func SetAgentCeilingWithValidation(v *vault.Vault, userID, agentID string, newCeiling []vault.PermissionLevel, log *audit.Logger) error {
	err := v.WithDocument(func(doc *vault.Document) error {
		userCeil := userGrantCeiling(doc, userID)
		requested := make([]string, len(newCeiling))
		for i, l := range newCeiling {
			requested[i] = string(l)
		}
		if !coversAll(userCeil, requested) {
			return ErrInsufficientPermissions
		}
		doc.AgentCeilings[agentID] = &vault.AgentCeiling{
			AgentID:    agentID,
			Ceiling:    newCeiling,
			ModifiedAt: time.Now().UTC(),
			SetBy:      userID,
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.LogJSON(agentID, "ceiling.set_agent", userID, map[string]any{"ceiling": newCeiling})
	return nil
}

// CleanupOld removes escalation requests resolved (approved or denied)
// more than maxAge ago, per the background cleanup task in §5.
func CleanupOld(v *vault.Vault, maxAge time.Duration) (int, error) {
	removed := 0
	err := v.WithDocument(func(doc *vault.Document) error {
		cutoff := time.Now().Add(-maxAge)
		for id, r := range doc.Escalations {
			if r.Status == vault.EscalationPending {
				continue
			}
			if r.ResolvedAt != nil && r.ResolvedAt.Before(cutoff) {
				delete(doc.Escalations, id)
				removed++
			}
		}
		return nil
	})
	return removed, err
}

// DefaultCleanupAge is the 30-day retention window for resolved escalation
// requests used by the background cleanup task.
const DefaultCleanupAge = 30 * 24 * time.Hour
