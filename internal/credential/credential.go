// Package credential encrypts the service-to-service token sent to the state
// backend and builds the headers for every backend call.
package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"

	apperrors "github.com/R3E-Network/grants_ui/internal/errors"
)

const (
	// LockTokenHeader carries the lock token on write requests.
	LockTokenHeader = "X-Application-Lock-Owner"

	ivSize  = 12
	tagSize = 16
	keySize = 32

	// scrypt cost parameters and salt; the backend derives the same key.
	scryptN    = 16384
	scryptR    = 8
	scryptP    = 1
	scryptSalt = "salt"
)

// keyCache holds scrypt output per configured secret. Derivation is slow on
// purpose, so each process derives a key once.
var keyCache = struct {
	mu   sync.Mutex
	keys map[string][]byte
}{keys: make(map[string][]byte)}

func deriveKey(secret string) ([]byte, error) {
	keyCache.mu.Lock()
	defer keyCache.mu.Unlock()

	if k, ok := keyCache.keys[secret]; ok {
		return k, nil
	}
	k, err := scrypt.Key([]byte(secret), []byte(scryptSalt), scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	keyCache.keys[secret] = k
	return k, nil
}

func newGCM(encryptionKey string) (cipher.AEAD, error) {
	if encryptionKey == "" {
		return nil, apperrors.Config("GRANTS_UI_BACKEND_ENCRYPTION_KEY")
	}
	key, err := deriveKey(encryptionKey)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCMWithTagSize(block, tagSize)
}

// Encrypt seals token with AES-256-GCM under a key derived from
// encryptionKey. The result is "base64(iv):base64(tag):base64(ciphertext)".
func Encrypt(token, encryptionKey string) (string, error) {
	gcm, err := newGCM(encryptionKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(token), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ciphertext),
	}, ":"), nil
}

// Decrypt reverses Encrypt. Any tampering fails authentication.
func Decrypt(payload, encryptionKey string) (string, error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("credential: expected iv:tag:ciphertext")
	}

	var raw [3][]byte
	for i, p := range parts {
		b, err := base64.StdEncoding.DecodeString(p)
		if err != nil {
			return "", fmt.Errorf("credential: decode part %d: %w", i, err)
		}
		raw[i] = b
	}
	iv, tag, ciphertext := raw[0], raw[1], raw[2]
	if len(iv) != ivSize || len(tag) != tagSize {
		return "", fmt.Errorf("credential: bad iv or tag length")
	}

	gcm, err := newGCM(encryptionKey)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("credential: authenticate: %w", err)
	}
	return string(plain), nil
}

// BuildHeaders composes the headers for a backend call. Authorization is
// only set when token is non-empty; callers treat its absence as an
// unconfigured backend. lockToken is propagated as-is when present.
func BuildHeaders(token, encryptionKey, lockToken string) (http.Header, error) {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")

	if token != "" {
		encrypted, err := Encrypt(token, encryptionKey)
		if err != nil {
			return nil, err
		}
		h.Set("Authorization", "Bearer "+base64.StdEncoding.EncodeToString([]byte(encrypted)))
	}
	if lockToken != "" {
		h.Set(LockTokenHeader, lockToken)
	}
	return h, nil
}

// ParseAuthorization extracts and decrypts the service token from an
// Authorization header value built by BuildHeaders.
func ParseAuthorization(header, encryptionKey string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", fmt.Errorf("credential: missing bearer prefix")
	}
	outer, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return "", fmt.Errorf("credential: decode bearer: %w", err)
	}
	return Decrypt(string(outer), encryptionKey)
}
