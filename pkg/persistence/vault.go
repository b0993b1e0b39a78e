// Package persistence implements Photon's on-disk state: atomically
// written, ChaCha20-Poly1305-encrypted files (each holds nonce ||
// ciphertext, with no VSF envelope around it) for identity,
// contacts, ceremony state, and ratchet chains, plus a supplementary
// SQLite message-history database for local browsing.
package persistence

import (
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/nickspiker/photon/pkg/digest"
)

var (
	ErrNotFound  = errors.New("persistence: not found")
	ErrCorrupt   = errors.New("persistence: file too short to be a valid vault entry")
)

// Vault is a directory of atomically written, encrypted section files.
// Every Put/Get round-trips through the single ChaCha20-Poly1305 key given
// to Open (DeriveVaultKey derives it from the identity seed and device
// secret).
type Vault struct {
	dir string
	key [chacha20poly1305.KeySize]byte
}

// DeriveVaultKey derives the vault's symmetric key from the identity seed
// and device secret, domain-separated so a vault key can never be
// confused with a CLUTCH or CHAIN key derived from the same material.
func DeriveVaultKey(identitySeed, deviceSecret []byte) [chacha20poly1305.KeySize]byte {
	return digest.Smear("PHOTON_VAULT_KEY_v1", identitySeed, deviceSecret)
}

// Open prepares a vault rooted at dir, creating it (mode 0700) if absent.
func Open(dir string, key [chacha20poly1305.KeySize]byte) (*Vault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("persistence: creating vault directory: %w", err)
	}
	return &Vault{dir: dir, key: key}, nil
}

func (v *Vault) path(relPath string) string {
	return filepath.Join(v.dir, filepath.FromSlash(relPath))
}

// Put atomically writes plaintext, encrypted, to relPath (e.g.
// "contacts/index", "friendships/<b64 id>/chains.vsf.enc"). It writes to a
// temp file in the same directory and renames over the destination, so a
// crash mid-write never corrupts the previous version.
func (v *Vault) Put(relPath string, plaintext []byte) error {
	dest := v.path(relPath)
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return fmt.Errorf("persistence: creating %s parent dir: %w", relPath, err)
	}

	aead, err := chacha20poly1305.New(v.key[:])
	if err != nil {
		return fmt.Errorf("persistence: building AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("persistence: generating nonce: %w", err)
	}
	ciphertext := aead.Seal(nonce, nonce, plaintext, nil)

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("persistence: creating temp file for %s: %w", relPath, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(ciphertext); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: writing %s: %w", relPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("persistence: syncing %s: %w", relPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: closing temp file for %s: %w", relPath, err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("persistence: setting permissions on %s: %w", relPath, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("persistence: committing %s: %w", relPath, err)
	}
	return nil
}

// Get reads and decrypts relPath, returning ErrNotFound if it does not
// exist.
func (v *Vault) Get(relPath string) ([]byte, error) {
	raw, err := os.ReadFile(v.path(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("persistence: reading %s: %w", relPath, err)
	}
	if len(raw) < chacha20poly1305.NonceSize {
		return nil, ErrCorrupt
	}

	aead, err := chacha20poly1305.New(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("persistence: building AEAD: %w", err)
	}
	nonce, ciphertext := raw[:chacha20poly1305.NonceSize], raw[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("persistence: decrypting %s: %w", relPath, err)
	}
	return plaintext, nil
}

// Delete removes relPath if present; deleting a missing path is not an
// error.
func (v *Vault) Delete(relPath string) error {
	if err := os.Remove(v.path(relPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persistence: deleting %s: %w", relPath, err)
	}
	return nil
}

// Standard relative paths within a vault.
const (
	PathContactsIndex = "contacts/index"
)

// ContactStatePath is the per-contact ceremony/chain state file path.
func ContactStatePath(contactID8 string) string {
	return filepath.Join("contacts", contactID8, "state")
}

// ContactClutchKeypairsPath holds a contact's in-flight ephemeral CLUTCH
// keys, separate from ceremony state so it can be zeroed independently
// once the ceremony completes.
func ContactClutchKeypairsPath(contactID8 string) string {
	return filepath.Join("contacts", contactID8, "clutch_keypairs")
}

// ContactClutchSlotsPath holds a contact's PartySlot (their offer and the
// secrets derived from it).
func ContactClutchSlotsPath(contactID8 string) string {
	return filepath.Join("contacts", contactID8, "clutch_slots")
}

// FriendshipChainsPath holds one friendship's encrypted ratchet chains.
func FriendshipChainsPath(friendshipIDBase64 string) string {
	return filepath.Join("friendships", friendshipIDBase64, "chains.vsf.enc")
}
