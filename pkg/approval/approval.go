// Package approval implements the approval gateway (C9): for
// agent-initiated sharing beyond its ceiling, an external approval
// facility is consulted before a capability token is minted. The
// facility itself lives outside this process; this package only defines
// the extension point and the refuse-unless-approved contract.
package approval

import (
	"errors"
	"time"

	"github.com/cuemby/vaultd/pkg/capability"
	"github.com/cuemby/vaultd/pkg/vault"
)

// Status is the outcome of an approval check.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusExpired  Status = "expired"
)

// Sentinel errors for the approval gateway.
var (
	// ErrNotApproved is returned by IssueWithApproval whenever CheckFunc
	// reports anything other than StatusApproved. Core refuses to mint.
	ErrNotApproved = errors.New("approval: capability not approved")
)

// Decision is what a CheckFunc reports back about one approval_id.
type Decision struct {
	Status    Status
	DecidedAt *time.Time
}

// CheckFunc is the single extension point this package defines: given an
// approval_id minted by the out-of-process approval facility, report its
// current status. Implementations are free to poll a file, call an HTTP
// endpoint, or consult a local always-pending stub — this package makes
// no assumption about how the decision is reached, only that it can be
// asked for synchronously.
type CheckFunc func(approvalID string) (Decision, error)

// IssueWithApproval mints a capability exactly as capability.IssueCapability
// does, but only after check reports StatusApproved for approvalID. Any
// other status — including a CheckFunc error — refuses to mint and returns
// ErrNotApproved (joined with the CheckFunc error, if any). The decision
// is returned alongside the error for callers that want to surface
// pending/denied/expired to a user.
func IssueWithApproval(v *vault.Vault, subjectSigningPub []byte, resource string, scope []string, expiresIn time.Duration, opts capability.IssueOptions, approvalID string, check CheckFunc) (*capability.IssueResult, Decision, error) {
	decision, err := check(approvalID)
	if err != nil {
		return nil, decision, errorf(err)
	}
	if decision.Status != StatusApproved {
		return nil, decision, ErrNotApproved
	}
	result, err := capability.IssueCapability(v, subjectSigningPub, resource, scope, expiresIn, opts)
	if err != nil {
		return nil, decision, err
	}
	return result, decision, nil
}

func errorf(err error) error {
	return errors.Join(ErrNotApproved, err)
}
