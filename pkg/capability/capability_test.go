package capability

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vaultd/pkg/audit"
	"github.com/cuemby/vaultd/pkg/cryptoprim"
	"github.com/cuemby/vaultd/pkg/integration"
	"github.com/cuemby/vaultd/pkg/vault"
)

const testScryptN = 1 << 10

func newTestVault(t *testing.T) *vault.Vault {
	t.Helper()
	v := vault.NewTestVault(t.TempDir(), testScryptN)
	require.NoError(t, v.Initialize("pw-0123456789abcdef"))
	require.NoError(t, integration.Set(v, "github", integration.Params{AccessToken: "tok-A"}))
	return v
}

// fakeNotifier is a minimal in-memory stand-in for the relay client
// contract, used to exercise RevokeCapability/CheckRelayRevocation without
// a network dependency.
type fakeNotifier struct {
	reachable bool
	revoked   map[string]bool
	notified  []RevocationMessage
	failNext  bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{reachable: true, revoked: make(map[string]bool)}
}

func (f *fakeNotifier) NotifyRevocation(ctx context.Context, msg RevocationMessage) error {
	if f.failNext {
		f.failNext = false
		return assert.AnError
	}
	f.notified = append(f.notified, msg)
	f.revoked[msg.CapabilityID] = true
	return nil
}

func (f *fakeNotifier) CheckRevocation(ctx context.Context, id string) (bool, bool, error) {
	if !f.reachable {
		return false, false, nil
	}
	return f.revoked[id], true, nil
}

func TestHappyPathMintAndUse(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)

	issued, err := IssueCapability(v, subPub, "github", []string{"read", "list"}, time.Hour, IssueOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, issued.Token)

	res, err := ExecuteCapability(v, issued.Token, "read", map[string]any{}, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "tok-A", res.AccessToken)
	assert.Equal(t, "read", res.Operation)

	_, err = ExecuteCapability(v, issued.Token, "write", map[string]any{}, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrScopeViolation)
}

func TestIssueCapabilityRequiresExistingResource(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	_, err := IssueCapability(v, subPub, "does-not-exist", []string{"read"}, time.Hour, IssueOptions{})
	assert.ErrorIs(t, err, ErrResourceMissing)
}

func TestIssueCachedRequiresEncryptionKey(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	_, err := IssueCapability(v, subPub, "github", []string{"read"}, time.Hour, IssueOptions{Tier: vault.TierCached})
	assert.ErrorIs(t, err, ErrCachedRequiresEncKey)
}

func TestExecuteCapabilityRejectsExpired(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	issued, err := IssueCapability(v, subPub, "github", []string{"*"}, -time.Second, IssueOptions{})
	require.NoError(t, err)

	_, err = ExecuteCapability(v, issued.Token, "read", nil, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestExecuteCapabilityEnforcesMaxCalls(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	max := 2
	issued, err := IssueCapability(v, subPub, "github", []string{"*"}, time.Hour, IssueOptions{MaxCalls: &max})
	require.NoError(t, err)

	_, err = ExecuteCapability(v, issued.Token, "read", nil, ExecuteOptions{})
	require.NoError(t, err)
	_, err = ExecuteCapability(v, issued.Token, "read", nil, ExecuteOptions{})
	require.NoError(t, err)
	_, err = ExecuteCapability(v, issued.Token, "read", nil, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrOverused)
}

func TestExecuteCapabilityRejectsTamperedToken(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	issued, err := IssueCapability(v, subPub, "github", []string{"*"}, time.Hour, IssueOptions{})
	require.NoError(t, err)

	tok, err := decodeToken(issued.Token)
	require.NoError(t, err)
	tok.Scope = []string{"admin"}
	tampered, err := encodeToken(tok)
	require.NoError(t, err)

	_, err = ExecuteCapability(v, tampered, "admin", nil, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestRevokeCapabilityIsIdempotentAndBlocksExecution(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	issued, err := IssueCapability(v, subPub, "github", []string{"*"}, time.Hour, IssueOptions{})
	require.NoError(t, err)

	notifier := newFakeNotifier()
	ctx := context.Background()

	res1, err := RevokeCapability(ctx, v, notifier, issued.ID, RevokeOptions{})
	require.NoError(t, err)
	assert.True(t, res1.Revoked)
	assert.True(t, res1.RelayNotified)

	res2, err := RevokeCapability(ctx, v, notifier, issued.ID, RevokeOptions{})
	require.NoError(t, err)
	assert.True(t, res2.Revoked)

	_, err = ExecuteCapability(v, issued.Token, "read", nil, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestRevokeCapabilitySurfacesRelayError(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	issued, err := IssueCapability(v, subPub, "github", []string{"*"}, time.Hour, IssueOptions{})
	require.NoError(t, err)

	notifier := newFakeNotifier()
	notifier.failNext = true

	res, err := RevokeCapability(context.Background(), v, notifier, issued.ID, RevokeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Revoked)
	assert.False(t, res.RelayNotified)
	assert.NotEmpty(t, res.RelayError)
}

func TestCheckRelayRevocationIsNonAuthoritative(t *testing.T) {
	notifier := newFakeNotifier()
	notifier.revoked["cap-1"] = true

	revoked, reachable, err := CheckRelayRevocation(context.Background(), notifier, "cap-1")
	require.NoError(t, err)
	assert.True(t, revoked)
	assert.True(t, reachable)

	notifier.reachable = false
	_, reachable, err = CheckRelayRevocation(context.Background(), notifier, "cap-1")
	require.NoError(t, err)
	assert.False(t, reachable)
}

func TestVerifyAndLoadReceived(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	issued, err := IssueCapability(v, subPub, "github", []string{"read"}, time.Hour, IssueOptions{})
	require.NoError(t, err)

	recipient := vault.NewTestVault(t.TempDir(), testScryptN)
	require.NoError(t, recipient.Initialize("pw"))

	id, err := VerifyAndLoadReceived(recipient, issued.Token, "issuer-container-id")
	require.NoError(t, err)
	assert.Equal(t, issued.ID, id)

	err = recipient.ViewDocument(func(doc *vault.Document) {
		rc, ok := doc.ReceivedCaps[id]
		require.True(t, ok)
		assert.Equal(t, "github", rc.Resource)
		assert.Equal(t, "issuer-container-id", rc.IssuerContainerID)
	})
	require.NoError(t, err)
}

func TestReissuePreservesFieldsWithNewID(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	max := 10
	issued, err := IssueCapability(v, subPub, "github", []string{"read", "list"}, time.Hour, IssueOptions{MaxCalls: &max})
	require.NoError(t, err)

	reissued, err := Reissue(context.Background(), v, nil, issued.ID, false, nil, "")
	require.NoError(t, err)
	assert.NotEqual(t, issued.ID, reissued.ID)

	err = v.ViewDocument(func(doc *vault.Document) {
		g, ok := doc.Grants[reissued.ID]
		require.True(t, ok)
		assert.Equal(t, "github", g.Resource)
		assert.ElementsMatch(t, []string{"read", "list"}, g.Scope)
		assert.Equal(t, max, *g.MaxCalls)
		assert.WithinDuration(t, doc.Grants[issued.ID].Expires, g.Expires, time.Second)
		assert.Equal(t, doc.Identity.Current.Version, doc.CapabilityVersion[reissued.ID])
	})
	require.NoError(t, err)
}

func TestReissueWithRevokeOldRevokesOriginal(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	issued, err := IssueCapability(v, subPub, "github", []string{"read"}, time.Hour, IssueOptions{})
	require.NoError(t, err)

	_, err = Reissue(context.Background(), v, nil, issued.ID, true, nil, "")
	require.NoError(t, err)

	_, err = ExecuteCapability(v, issued.Token, "read", nil, ExecuteOptions{})
	assert.ErrorIs(t, err, ErrRevoked)
}

func TestMintAndUseRecordsAuditTrail(t *testing.T) {
	v := newTestVault(t)
	subPub, _ := cryptoprimKeypair(t)
	log := audit.NewLogger(nil, zerolog.Nop())

	issued, err := IssueCapability(v, subPub, "github", []string{"read", "list"}, time.Hour, IssueOptions{Audit: log, Actor: "issuer-1"})
	require.NoError(t, err)

	_, err = ExecuteCapability(v, issued.Token, "read", map[string]any{}, ExecuteOptions{Audit: log, Actor: "subject-1"})
	require.NoError(t, err)

	_, err = ExecuteCapability(v, issued.Token, "write", map[string]any{}, ExecuteOptions{Audit: log, Actor: "subject-1"})
	assert.ErrorIs(t, err, ErrScopeViolation)

	entries := log.Recent(issued.ID, 10)
	require.Len(t, entries, 3)
	assert.Equal(t, "capability.execution_failed", entries[0].Action)
	assert.Equal(t, "capability.executed", entries[1].Action)
	assert.Equal(t, "capability.issued", entries[2].Action)
}

func cryptoprimKeypair(t *testing.T) (pub, priv []byte) {
	t.Helper()
	p, s, err := cryptoprim.GenerateSigningKeypair()
	require.NoError(t, err)
	return p, s
}
