package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

// Field encryption parameters.  Ciphertexts are emitted as three
// colon-delimited hex segments (iv:ciphertext:tag) so a stored value is
// self-describing and portable across processes.
const (
	fieldIVLen     = 16
	fieldTagLen    = 16
	fieldKeyLen    = 32
	kdfIterations  = 100_000
	maxFieldLength = 64 * 1024
)

var (
	ErrNoMasterKey     = errors.New("encryption master key is not set")
	ErrEncryptFailed   = errors.New("field encryption failed")
	ErrDecryptFailed   = errors.New("field decryption failed")
	ErrFieldTooLong    = errors.New("field exceeds encryption length limit")
)

// FieldCipher encrypts and decrypts sensitive columns (MFA secrets, user
// payloads) with AES-256-GCM under per-user keys derived from a single
// master key.  The master key is read-only after construction, so a
// FieldCipher is safe for concurrent use.
type FieldCipher struct {
	masterKey []byte
	keySalt   []byte
	derived   sync.Map // userID -> []byte, PBKDF2 is too slow to re-run per call
}

// NewFieldCipher builds a cipher around the configured master key.  An
// empty key is rejected; the caller decides whether an ephemeral
// development key is an acceptable substitute (see RandomMasterKey).
func NewFieldCipher(masterKey, keySalt string) (*FieldCipher, error) {
	if masterKey == "" {
		return nil, ErrNoMasterKey
	}
	return &FieldCipher{masterKey: []byte(masterKey), keySalt: []byte(keySalt)}, nil
}

// RandomMasterKey returns a hex-encoded random 32-byte key for
// development deployments that do not configure one.
func RandomMasterKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// DeriveUserKey derives the per-user field key: PBKDF2-SHA256 over the
// master key, salted with a hash of the user id.  Compromise of one
// derived key exposes neither the master key nor other users' keys.
func (f *FieldCipher) DeriveUserKey(userID uint64) []byte {
	if cached, ok := f.derived.Load(userID); ok {
		return cached.([]byte)
	}
	salt := sha256.Sum256(append([]byte(strconv.FormatUint(userID, 10)), f.keySalt...))
	key := pbkdf2.Key(f.masterKey, salt[:], kdfIterations, fieldKeyLen, sha256.New)
	f.derived.Store(userID, key)
	return key
}

// EncryptField seals plaintext with AES-256-GCM under key, generating a
// fresh random 16-byte IV per call.
func (f *FieldCipher) EncryptField(plaintext string, key []byte) (string, error) {
	if len(plaintext) > maxFieldLength {
		return "", ErrFieldTooLong
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	iv := make([]byte, fieldIVLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptFailed, err)
	}
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-fieldTagLen], sealed[len(sealed)-fieldTagLen:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ct) + ":" + hex.EncodeToString(tag), nil
}

// DecryptField reverses EncryptField.  It fails closed: a malformed
// ciphertext or an authentication tag mismatch yields ErrDecryptFailed
// and no partial data.
func (f *FieldCipher) DecryptField(encoded string, key []byte) (string, error) {
	parts := strings.Split(encoded, ":")
	if len(parts) != 3 {
		return "", ErrDecryptFailed
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != fieldIVLen {
		return "", ErrDecryptFailed
	}
	ct, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptFailed
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != fieldTagLen {
		return "", ErrDecryptFailed
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	plain, err := gcm.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plain), nil
}

// EncryptForUser is EncryptField under the user's derived key.
func (f *FieldCipher) EncryptForUser(userID uint64, plaintext string) (string, error) {
	return f.EncryptField(plaintext, f.DeriveUserKey(userID))
}

// DecryptForUser is DecryptField under the user's derived key.
func (f *FieldCipher) DecryptForUser(userID uint64, encoded string) (string, error) {
	return f.DecryptField(encoded, f.DeriveUserKey(userID))
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, fieldIVLen)
}
