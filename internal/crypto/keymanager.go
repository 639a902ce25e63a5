// Package crypto seals wallet secrets at rest and resolves them for
// signing.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// Encoding is the text form of a raw secret.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase58 Encoding = "base58"
)

// sealedSecretJSON is the on-disk and in-database format of a sealed secret.
type sealedSecretJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig carries the information LoadSecret needs to resolve a secret.
type KeyConfig struct {
	// RawSecret is the secret in Encoding. It wins over EncryptedKeyPath.
	RawSecret string
	Encoding  Encoding

	// EncryptedKeyPath is a file produced by Seal.
	EncryptedKeyPath string
	KeyPassword      string
}

// Seal encrypts secret with a password using PBKDF2-HMAC-SHA256 and
// AES-256-GCM. The result is a JSON blob.
func Seal(secret []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	if len(secret) == 0 {
		return nil, errors.New("crypto: secret must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	return json.Marshal(sealedSecretJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, secret, nil)),
	})
}

// Open decrypts a blob produced by Seal.
func Open(sealed []byte, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	var stored sealedSecretJSON
	if err := json.Unmarshal(sealed, &stored); err != nil {
		return nil, fmt.Errorf("crypto: parsing sealed secret: %w", err)
	}
	if stored.Version != currentVersion {
		return nil, fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return plaintext, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// DecodeSecret parses a raw secret in the given encoding.
func DecodeSecret(s string, enc Encoding) ([]byte, error) {
	s = strings.TrimSpace(s)
	switch enc {
	case EncodingBase58:
		b, err := base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid base58 secret: %w", err)
		}
		return b, nil
	case EncodingHex, "":
		b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
		if err != nil {
			return nil, fmt.Errorf("crypto: invalid hex secret: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("crypto: unknown encoding %q", enc)
	}
}

// LoadSecret resolves a secret from the provided configuration.
//
// Resolution order:
//  1. If RawSecret is set, decode it with Encoding.
//  2. If EncryptedKeyPath is set, read the file and open it with KeyPassword.
//  3. Otherwise, return an error.
func LoadSecret(cfg KeyConfig) ([]byte, error) {
	if cfg.RawSecret != "" {
		return DecodeSecret(cfg.RawSecret, cfg.Encoding)
	}
	if cfg.EncryptedKeyPath != "" {
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return nil, fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return Open(data, cfg.KeyPassword)
	}
	return nil, errors.New("crypto: no secret source configured (set a raw secret or an encrypted key path)")
}
