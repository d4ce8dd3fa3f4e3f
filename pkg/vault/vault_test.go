package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testScryptN keeps these tests from paying the production KDF cost.
const testScryptN = 1 << 10

func TestInitializeThenUnlock(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)

	require.NoError(t, v.Initialize("correct horse battery staple"))
	assert.True(t, v.Status().Unlocked)

	v.Lock()
	assert.False(t, v.Status().Unlocked)

	v2 := NewTestVault(dir, testScryptN)
	require.NoError(t, v2.Unlock("correct horse battery staple"))
	assert.True(t, v2.Status().Unlocked)
}

func TestInitializeTwiceFails(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("pw"))

	v2 := NewTestVault(dir, testScryptN)
	err := v2.Initialize("pw")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestUnlockBeforeInitializeFails(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	err := v.Unlock("pw")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestUnlockWrongPassword(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("right-password"))
	v.Lock()

	v2 := NewTestVault(dir, testScryptN)
	err := v2.Unlock("wrong-password")
	assert.ErrorIs(t, err, ErrWrongPassword)
	assert.False(t, v2.Status().Unlocked)
}

func TestContentOperationsRequireUnlock(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("pw"))
	v.Lock()

	err := v.WithDocument(func(doc *Document) error { return nil })
	assert.ErrorIs(t, err, ErrLocked)

	err = v.ViewDocument(func(doc *Document) {})
	assert.ErrorIs(t, err, ErrLocked)

	err = v.Save()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestWithDocumentPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("pw"))

	err := v.WithDocument(func(doc *Document) error {
		doc.Integrations["github"] = Integration{Name: "github", AccessToken: "ghp_xyz"}
		return nil
	})
	require.NoError(t, err)
	v.Lock()

	v2 := NewTestVault(dir, testScryptN)
	require.NoError(t, v2.Unlock("pw"))
	var token string
	err = v2.ViewDocument(func(doc *Document) {
		token = doc.Integrations["github"].AccessToken
	})
	require.NoError(t, err)
	assert.Equal(t, "ghp_xyz", token)
}

func TestWithDocumentDoesNotPersistOnError(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("pw"))

	sentinel := assert.AnError
	err := v.WithDocument(func(doc *Document) error {
		doc.Integrations["github"] = Integration{Name: "github"}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	v.Lock()
	v2 := NewTestVault(dir, testScryptN)
	require.NoError(t, v2.Unlock("pw"))
	err = v2.ViewDocument(func(doc *Document) {
		_, exists := doc.Integrations["github"]
		assert.False(t, exists)
	})
	require.NoError(t, err)
}

func TestRotateEncryptionKey(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("old-password"))
	require.NoError(t, v.WithDocument(func(doc *Document) error {
		doc.Integrations["slack"] = Integration{Name: "slack", AccessToken: "xoxb-1"}
		return nil
	}))

	require.NoError(t, v.RotateEncryptionKey("new-password"))
	v.Lock()

	v2 := NewTestVault(dir, testScryptN)
	err := v2.Unlock("old-password")
	assert.ErrorIs(t, err, ErrWrongPassword)

	v3 := NewTestVault(dir, testScryptN)
	require.NoError(t, v3.Unlock("new-password"))
	err = v3.ViewDocument(func(doc *Document) {
		assert.Equal(t, "xoxb-1", doc.Integrations["slack"].AccessToken)
	})
	require.NoError(t, err)
}

func TestExtendSessionRequiresUnlocked(t *testing.T) {
	dir := t.TempDir()
	v := NewTestVault(dir, testScryptN)
	require.NoError(t, v.Initialize("pw"))
	v.Lock()

	err := v.ExtendSession()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestInitializeGeneratesDistinctIdentity(t *testing.T) {
	dir1, dir2 := t.TempDir(), t.TempDir()
	v1 := NewTestVault(dir1, testScryptN)
	v2 := NewTestVault(dir2, testScryptN)
	require.NoError(t, v1.Initialize("pw"))
	require.NoError(t, v2.Initialize("pw"))

	var keyID1, keyID2 string
	require.NoError(t, v1.ViewDocument(func(doc *Document) { keyID1 = doc.Identity.Current.KeyID }))
	require.NoError(t, v2.ViewDocument(func(doc *Document) { keyID2 = doc.Identity.Current.KeyID }))
	assert.NotEqual(t, keyID1, keyID2)
}
