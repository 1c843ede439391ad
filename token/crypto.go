package token

import (
	"crypto/sha256"
	"io"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/pkg/errors"
	"golang.org/x/crypto/hkdf"
)

// keyInfo binds derived keys to this use so the same password never yields
// the same key in another context.
const keyInfo = "connecteddrive token-at-rest v1"

// payloadVersion prefixes every plaintext; jwe rejects an empty payload.
const payloadVersion byte = 1

// Encryptor encrypts token material at rest. The content key is derived from
// the account secret and never leaves the process.
type Encryptor struct {
	key []byte // 32 bytes, A256GCM
}

// NewEncryptor derives an AES-256 content key from secret with HKDF-SHA256.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, errors.New("NewEncryptor: secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, errors.Wrap(err, "NewEncryptor hkdf")
	}
	return &Encryptor{key: key}, nil
}

// Encrypt returns a compact JWE (dir, A256GCM). Every call uses a fresh IV so
// two encryptions of the same plaintext differ.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	payload := append([]byte{payloadVersion}, plaintext...)
	out, err := jwe.Encrypt(payload,
		jwe.WithKey(jwa.DIRECT, e.key),
		jwe.WithContentEncryption(jwa.A256GCM),
	)
	if err != nil {
		return "", errors.Wrap(err, "Encryptor.Encrypt")
	}
	return string(out), nil
}

// Decrypt reverses Encrypt. It fails when the ciphertext was produced with a
// different secret.
func (e *Encryptor) Decrypt(ciphertext string) (string, error) {
	out, err := jwe.Decrypt([]byte(ciphertext), jwe.WithKey(jwa.DIRECT, e.key))
	if err != nil {
		return "", errors.Wrap(err, "Encryptor.Decrypt")
	}
	if len(out) == 0 || out[0] != payloadVersion {
		return "", errors.New("Encryptor.Decrypt: unknown payload version")
	}
	return string(out[1:]), nil
}

// Encrypt is a one-shot helper around NewEncryptor and Encryptor.Encrypt.
func Encrypt(secret, plaintext string) (string, error) {
	e, err := NewEncryptor(secret)
	if err != nil {
		return "", err
	}
	return e.Encrypt(plaintext)
}

// Decrypt is a one-shot helper around NewEncryptor and Encryptor.Decrypt.
func Decrypt(secret, ciphertext string) (string, error) {
	e, err := NewEncryptor(secret)
	if err != nil {
		return "", err
	}
	return e.Decrypt(ciphertext)
}
