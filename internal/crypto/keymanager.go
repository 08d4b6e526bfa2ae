// Package crypto resolves the executor wallet key and signs transactions
// with it.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	currentVersion   = 1
)

// encryptedKeyJSON is the on-disk format written by EncryptKey.
type encryptedKeyJSON struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig lists the places a wallet key may come from. The first
// configured source wins: raw key, password-encrypted file, KMS ciphertext.
type KeyConfig struct {
	RawPrivateKey     string
	EncryptedKeyPath  string
	KeyPassword       string
	KMSCiphertextPath string
}

// Decrypter unwraps a KMS ciphertext blob.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

// EncryptKey seals a hex private key with a password-derived AES-256-GCM
// key and returns the JSON blob to store on disk.
func EncryptKey(privateKeyHex string, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}
	keyBytes, err := parseKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
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

	return sonnet.Marshal(encryptedKeyJSON{
		Version:    currentVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	})
}

// DecryptKey opens a blob produced by EncryptKey and returns the key as
// hex without a 0x prefix.
func DecryptKey(encryptedJSON []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored encryptedKeyJSON
	if err := sonnet.Unmarshal(encryptedJSON, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing encrypted key JSON: %w", err)
	}
	if stored.Version != currentVersion {
		return "", fmt.Errorf("crypto: unsupported version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("crypto: nonce length %d, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadKey resolves the wallet key from cfg. kms is only consulted for the
// KMS source and may be nil otherwise.
func LoadKey(ctx context.Context, cfg KeyConfig, kms Decrypter) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		b, err := parseKeyHex(cfg.RawPrivateKey)
		if err != nil {
			return "", err
		}
		return hex.EncodeToString(b), nil

	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading encrypted key file: %w", err)
		}
		return DecryptKey(data, cfg.KeyPassword)

	case cfg.KMSCiphertextPath != "":
		if kms == nil {
			return "", errors.New("crypto: kms ciphertext configured without a kms client")
		}
		blob, err := os.ReadFile(cfg.KMSCiphertextPath)
		if err != nil {
			return "", fmt.Errorf("crypto: reading kms ciphertext: %w", err)
		}
		// Accept the raw blob or the base64 text the AWS CLI prints.
		if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(blob))); err == nil {
			blob = decoded
		}
		plaintext, err := kms.Decrypt(ctx, blob)
		if err != nil {
			return "", fmt.Errorf("crypto: kms decrypt: %w", err)
		}
		return kmsPlaintextKey(plaintext)
	}
	return "", errors.New("crypto: no private key source configured")
}

// kmsPlaintextKey accepts either the 32 raw key bytes or their hex text.
func kmsPlaintextKey(plaintext []byte) (string, error) {
	if len(plaintext) == 32 {
		return hex.EncodeToString(plaintext), nil
	}
	b, err := parseKeyHex(strings.TrimSpace(string(plaintext)))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func parseKeyHex(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(b))
	}
	return b, nil
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
