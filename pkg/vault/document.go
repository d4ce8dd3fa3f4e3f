package vault

import "time"

// Document is the plaintext JSON document sealed inside the vault envelope.
// Every mutating operation in this package re-serializes and re-encrypts the
// full document; nothing described here is ever persisted unencrypted.
type Document struct {
	Identity Identity `json:"identity"`

	Integrations map[string]Integration `json:"integrations"`

	Grants            map[string]*CapabilityGrant    `json:"grants"`
	ReceivedCaps      map[string]*ReceivedCapability `json:"received_capabilities"`
	CapabilityVersion map[string]int                 `json:"capability_key_version"`
	PendingSnapshots  []*CachedSnapshot              `json:"pending_snapshots"`

	AgentCeilings map[string]*AgentCeiling     `json:"agent_ceilings"`
	UserCeilings  map[string]*UserGrantCeiling `json:"user_grant_ceilings"`
	Escalations   map[string]*EscalationRequest `json:"escalation_requests"`
}

// NewDocument returns an empty document with every map initialized, ready to
// be populated by Initialize.
func NewDocument() *Document {
	return &Document{
		Integrations:      make(map[string]Integration),
		Grants:            make(map[string]*CapabilityGrant),
		ReceivedCaps:      make(map[string]*ReceivedCapability),
		CapabilityVersion: make(map[string]int),
		PendingSnapshots:  nil,
		AgentCeilings:     make(map[string]*AgentCeiling),
		UserCeilings:      make(map[string]*UserGrantCeiling),
		Escalations:       make(map[string]*EscalationRequest),
	}
}

// Identity is the versioned signing/encryption identity plus its rotation
// state machine (Steady / Transitioning / Complete, see package identity).
type Identity struct {
	Current  VersionedIdentity  `json:"current"`
	Previous *VersionedIdentity `json:"previous,omitempty"`
	Archived []ArchivedKey      `json:"archived"`

	TransitionEndsAt *time.Time `json:"transition_ends_at,omitempty"`
}

// VersionedIdentity is one generation of the container's Ed25519/X25519
// identity. KeyID is the truncated fingerprint of SigningPub; versions are
// strictly increasing per rotation.
type VersionedIdentity struct {
	Version int `json:"version"`
	// KeyID is lowercase hex of the 16-byte fingerprint of SigningPub.
	KeyID string `json:"key_id"`

	SigningPub  []byte `json:"signing_pub"`
	SigningPriv []byte `json:"signing_priv"`

	EncryptionPub  []byte `json:"encryption_pub"`
	EncryptionPriv []byte `json:"encryption_priv"`

	CreatedAt time.Time `json:"created_at"`
}

// ArchivedKey is an immutable record of a retired VersionedIdentity.
type ArchivedKey struct {
	Key              VersionedIdentity `json:"key"`
	Reason           string            `json:"reason"`
	ArchivedAt       time.Time         `json:"archived_at"`
	TransitionActive bool              `json:"transition_active"`
}

// Integration is a stored third-party credential keyed by provider name.
type Integration struct {
	Name         string            `json:"name"`
	AccessToken  string            `json:"access_token"`
	RefreshToken string            `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time        `json:"expires_at,omitempty"`
	Email        string            `json:"email,omitempty"`
	Scopes       []string          `json:"scopes,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// SharingTier identifies how a capability is shared with its subject.
type SharingTier string

const (
	TierLive      SharingTier = "LIVE"
	TierCached    SharingTier = "CACHED"
	TierDelegated SharingTier = "DELEGATED" // reserved, not implemented
)

// CapabilityGrant is the issuer-side record of a minted capability token.
type CapabilityGrant struct {
	ID                   string      `json:"id"`
	SubjectSigningPub    []byte      `json:"subject_signing_pub"`
	SubjectEncryptionPub []byte      `json:"subject_encryption_pub,omitempty"`
	Resource             string      `json:"resource"`
	Scope                []string    `json:"scope"`
	Expires              time.Time   `json:"expires"`
	MaxCalls             *int        `json:"max_calls,omitempty"`
	CallCount            int         `json:"call_count"`
	Revoked              bool        `json:"revoked"`
	IssuedAt             time.Time   `json:"issued_at"`
	Tier                 SharingTier `json:"tier"`
	CacheRefreshInterval *int        `json:"cache_refresh_interval,omitempty"`
	LastSnapshotAt       *time.Time  `json:"last_snapshot_at,omitempty"`
}

// ReceivedCapability is the subject-side record created by
// VerifyAndLoadReceived.
type ReceivedCapability struct {
	ID                  string      `json:"id"`
	IssuerSigningPub    []byte      `json:"issuer_signing_pub"`
	IssuerEncryptionPub []byte      `json:"issuer_encryption_pub,omitempty"`
	IssuerContainerID   string      `json:"issuer_container_id"`
	Resource            string      `json:"resource"`
	Scope               []string    `json:"scope"`
	Expires             time.Time   `json:"expires"`
	Token               string      `json:"token"`
	Tier                SharingTier `json:"tier"`
	CachedSnapshot      *CachedData `json:"cached_snapshot,omitempty"`
}

// CachedData is the decrypted, locally-held copy of a cached snapshot.
type CachedData struct {
	DataJSON  []byte    `json:"data_json"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CachedSnapshot is a receiver-encrypted, signed snapshot of integration
// data produced by the cached-snapshot engine (package snapshot).
type CachedSnapshot struct {
	CapabilityID         string    `json:"capability_id"`
	EncryptedData        []byte    `json:"encrypted_data"`
	EphemeralPub         []byte    `json:"ephemeral_pub"`
	Nonce                []byte    `json:"nonce"`
	Tag                  []byte    `json:"tag"`
	Signature            []byte    `json:"signature"`
	IssuerSigningPub     []byte    `json:"issuer_signing_pub"`
	RecipientEncryption  []byte    `json:"recipient_encryption_pub"`
	CreatedAt           time.Time `json:"created_at"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// PermissionLevel is one rung of the fixed, totally ordered permission
// lattice shared by AgentCeiling and UserGrantCeiling.
type PermissionLevel string

const (
	PermRead         PermissionLevel = "read"
	PermList         PermissionLevel = "list"
	PermWrite        PermissionLevel = "write"
	PermDelete       PermissionLevel = "delete"
	PermAdmin        PermissionLevel = "admin"
	PermShareFurther PermissionLevel = "share-further"
)

// permissionOrder is the fixed total order over PermissionLevel; unknown
// strings are outside every ceiling.
var permissionOrder = map[PermissionLevel]int{
	PermRead:         0,
	PermList:         1,
	PermWrite:        2,
	PermDelete:       3,
	PermAdmin:        4,
	PermShareFurther: 5,
}

// Order returns the rank of a permission level, and false if it is not a
// recognized level (and therefore outside any ceiling).
func Order(level PermissionLevel) (int, bool) {
	o, ok := permissionOrder[level]
	return o, ok
}

// AgentCeiling is the maximum permission set an autonomous agent may grant
// without escalation.
type AgentCeiling struct {
	AgentID    string            `json:"agent_id"`
	Ceiling    []PermissionLevel `json:"ceiling"`
	Reason     string            `json:"reason,omitempty"`
	ModifiedAt time.Time         `json:"modified_at"`
	SetBy      string            `json:"set_by"`
}

// DefaultAgentCeiling is the ceiling assumed for an agent with no explicit
// AgentCeiling record.
func DefaultAgentCeiling() []PermissionLevel {
	return []PermissionLevel{PermRead, PermList}
}

// UserGrantCeiling is the maximum permission set a human user may grant to
// an agent without further approval.
type UserGrantCeiling struct {
	UserID     string            `json:"user_id"`
	Grantable  []PermissionLevel `json:"grantable"`
	ModifiedAt time.Time         `json:"modified_at"`
	Role       string            `json:"role,omitempty"`
}

// DefaultUserGrantCeiling is the full permission set, used when a user has
// no explicit UserGrantCeiling record.
func DefaultUserGrantCeiling() []PermissionLevel {
	return []PermissionLevel{PermRead, PermList, PermWrite, PermDelete, PermAdmin, PermShareFurther}
}

// EscalationStatus is the lifecycle state of an EscalationRequest.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationApproved EscalationStatus = "approved"
	EscalationDenied   EscalationStatus = "denied"
)

// EscalationRequest is a pending request to exceed an agent's ceiling,
// resolved by a human approver.
type EscalationRequest struct {
	ID                string            `json:"id"`
	AgentID           string            `json:"agent_id"`
	Resource          string            `json:"resource"`
	RequestedScope    []string          `json:"requested_scope"`
	GrantableSubset   []PermissionLevel `json:"grantable_subset"`
	EscalatedSubset   []PermissionLevel `json:"escalated_subset"`
	SubjectSigningPub []byte            `json:"subject_signing_pub"`
	ExpiresInSeconds  int               `json:"expires_in_seconds"`
	MaxCalls          *int              `json:"max_calls,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	Status            EscalationStatus  `json:"status"`
	ResolvedBy        string            `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
	DenialReason      string            `json:"denial_reason,omitempty"`
}
