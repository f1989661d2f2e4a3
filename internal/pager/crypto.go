package pager

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"

	"github.com/pageforge/streamdb/internal/errs"
)

// ───────────────────────────────────────────────────────────────────────────
// Page encryption — AES-256-GCM
// ───────────────────────────────────────────────────────────────────────────
//
// spec.md §4.1 derives the nonce from page_id alone, which §9 "Design
// Notes" calls out as unsafe: a page_id rewritten with different content
// under the same key would reuse a nonce. This package implements fix
// (i) from that note — the nonce also folds in the page's version, so a
// given (page_id, version) pair is AEAD-unique for the lifetime of a key.
//
// The configured 32-byte key is never used directly; it is expanded via
// HKDF-SHA256 into a dedicated AEAD subkey. The derivation uses no salt
// and a fixed info string, so the subkey depends only on the configured
// key: two databases opened with the same key use the same AES key.

const (
	aeadKeySize   = 32
	aeadNonceSize = 12
)

var hkdfInfo = []byte("streamdb/page-aead/v1")

// ErrEncryption wraps all page-encryption failures (spec.md §7 "EncryptionError").
var ErrEncryption = errs.ErrEncryption

// deriveSubkey expands the configured key into a dedicated AEAD key via
// HKDF-SHA256 (golang.org/x/crypto/hkdf). The result is a deterministic
// function of key alone.
func deriveSubkey(key []byte) ([]byte, error) {
	if len(key) != aeadKeySize {
		return nil, errors.Wrapf(ErrEncryption, "key must be %d bytes, got %d", aeadKeySize, len(key))
	}
	sub := make([]byte, aeadKeySize)
	r := hkdf.New(sha256.New, key, nil, hkdfInfo)
	if _, err := r.Read(sub); err != nil {
		return nil, errors.Wrap(ErrEncryption, "derive subkey")
	}
	return sub, nil
}

func newAEAD(subkey []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, errors.Wrap(ErrEncryption, "new AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(ErrEncryption, "new GCM")
	}
	return gcm, nil
}

// pageNonce builds a 12-byte nonce from (page_id, version): 8 bytes
// little-endian page_id followed by 4 bytes little-endian version. Every
// rewrite of a page bumps its version (spec.md §3 invariant: "Version
// numbers per document monotonically increase"), so the same nonce is
// never reused under the same key for two different plaintexts.
func pageNonce(id PageID, version Version) [aeadNonceSize]byte {
	var nonce [aeadNonceSize]byte
	binary.LittleEndian.PutUint64(nonce[0:8], uint64(id))
	binary.LittleEndian.PutUint32(nonce[8:12], uint32(version))
	return nonce
}

func encryptPayload(aead cipher.AEAD, id PageID, version Version, plaintext []byte) []byte {
	nonce := pageNonce(id, version)
	return aead.Seal(nil, nonce[:], plaintext, nil)
}

func decryptPayload(aead cipher.AEAD, id PageID, version Version, ciphertext []byte) ([]byte, error) {
	nonce := pageNonce(id, version)
	pt, err := aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrEncryption, "open page %d v%d", id, version)
	}
	return pt, nil
}
