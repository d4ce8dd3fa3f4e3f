package capability

import "errors"

// Sentinel errors for capability issuance, loading, and execution. Names
// follow the taxonomy in spec.md §7 so callers can branch with errors.Is.
var (
	ErrLocked               = errors.New("capability: vault locked")
	ErrResourceMissing      = errors.New("capability: resource missing")
	ErrCachedRequiresEncKey = errors.New("capability: tier=CACHED requires subject_encryption_pub")
	ErrBadSignature         = errors.New("capability: bad signature")
	ErrExpired              = errors.New("capability: expired")
	ErrRevoked              = errors.New("capability: revoked")
	ErrOverused             = errors.New("capability: max calls exceeded")
	ErrScopeViolation       = errors.New("capability: scope violation")
	ErrNotFound             = errors.New("capability: not found")
	ErrMalformedToken       = errors.New("capability: malformed token")
)
