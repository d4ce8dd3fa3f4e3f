package approval

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/vaultd/pkg/capability"
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

func subjectPub() []byte {
	return make([]byte, 32)
}

func TestIssueWithApprovalRefusesWhenPending(t *testing.T) {
	v := newTestVault(t)
	result, decision, err := IssueWithApproval(v, subjectPub(), "github", []string{"read"}, time.Hour, capability.IssueOptions{}, "req-1", AlwaysPending)
	require.Nil(t, result)
	assert.Equal(t, StatusPending, decision.Status)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestIssueWithApprovalRefusesWhenDenied(t *testing.T) {
	v := newTestVault(t)
	deny := func(string) (Decision, error) { return Decision{Status: StatusDenied}, nil }
	result, decision, err := IssueWithApproval(v, subjectPub(), "github", []string{"read"}, time.Hour, capability.IssueOptions{}, "req-1", deny)
	require.Nil(t, result)
	assert.Equal(t, StatusDenied, decision.Status)
	assert.ErrorIs(t, err, ErrNotApproved)
}

func TestIssueWithApprovalMintsWhenApproved(t *testing.T) {
	v := newTestVault(t)
	approve := func(string) (Decision, error) { return Decision{Status: StatusApproved}, nil }
	result, decision, err := IssueWithApproval(v, subjectPub(), "github", []string{"read"}, time.Hour, capability.IssueOptions{}, "req-1", approve)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decision.Status)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Token)
}

func TestIssueWithApprovalPropagatesCheckFuncError(t *testing.T) {
	v := newTestVault(t)
	boom := errors.New("approval facility unreachable")
	failing := func(string) (Decision, error) { return Decision{}, boom }
	result, _, err := IssueWithApproval(v, subjectPub(), "github", []string{"read"}, time.Hour, capability.IssueOptions{}, "req-1", failing)
	require.Nil(t, result)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.ErrorIs(t, err, boom)
}

func TestFileCheckReportsPendingWhenFileAbsent(t *testing.T) {
	dir := t.TempDir()
	check := FileCheck(dir)
	decision, err := check("missing-request")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, decision.Status)
}

func TestFileCheckReadsDecisionFromFile(t *testing.T) {
	dir := t.TempDir()
	decided := time.Now().UTC().Truncate(time.Second)
	data, err := json.Marshal(Decision{Status: StatusApproved, DecidedAt: &decided})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "req-1.json"), data, 0600))

	check := FileCheck(dir)
	decision, err := check("req-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decision.Status)
	require.NotNil(t, decision.DecidedAt)
	assert.True(t, decided.Equal(*decision.DecidedAt))
}
