package persistence

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVaultPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key := DeriveVaultKey([]byte("identity-seed"), []byte("device-secret"))
	v, err := Open(dir, key)
	require.NoError(t, err)

	require.NoError(t, v.Put(PathContactsIndex, []byte("contact list bytes")))

	got, err := v.Get(PathContactsIndex)
	require.NoError(t, err)
	require.Equal(t, []byte("contact list bytes"), got)
}

func TestVaultGetMissingReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	key := DeriveVaultKey([]byte("seed"), []byte("secret"))
	v, err := Open(dir, key)
	require.NoError(t, err)

	_, err = v.Get("nonexistent/path")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVaultWrongKeyFailsToDecrypt(t *testing.T) {
	dir := t.TempDir()
	key1 := DeriveVaultKey([]byte("seed"), []byte("secret"))
	v1, err := Open(dir, key1)
	require.NoError(t, err)
	require.NoError(t, v1.Put("x", []byte("secret data")))

	key2 := DeriveVaultKey([]byte("different"), []byte("secret"))
	v2, err := Open(dir, key2)
	require.NoError(t, err)

	_, err = v2.Get("x")
	require.Error(t, err)
}

func TestVaultPutOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	key := DeriveVaultKey([]byte("seed"), []byte("secret"))
	v, err := Open(dir, key)
	require.NoError(t, err)

	require.NoError(t, v.Put("x", []byte("version one")))
	require.NoError(t, v.Put("x", []byte("version two")))

	got, err := v.Get("x")
	require.NoError(t, err)
	require.Equal(t, []byte("version two"), got)

	entries, err := filepath.Glob(filepath.Join(dir, ".tmp-*"))
	require.NoError(t, err)
	require.Empty(t, entries, "no temp files should survive a successful Put")
}

func TestContactAndFriendshipPathHelpers(t *testing.T) {
	require.Equal(t, filepath.Join("contacts", "ab12cd34", "state"), ContactStatePath("ab12cd34"))
	require.Equal(t, filepath.Join("contacts", "ab12cd34", "clutch_keypairs"), ContactClutchKeypairsPath("ab12cd34"))
	require.Equal(t, filepath.Join("contacts", "ab12cd34", "clutch_slots"), ContactClutchSlotsPath("ab12cd34"))
	require.Equal(t, filepath.Join("friendships", "ZmFrZQ", "chains.vsf.enc"), FriendshipChainsPath("ZmFrZQ"))
}
