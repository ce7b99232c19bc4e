// Package seal encrypts message bodies for conversations marked encrypted.
//
// Each user holds an X25519 identity key. The key shared by a conversation is
// derived with HKDF-SHA256 from the participants' Diffie-Hellman secret, so
// either participant can derive it without a key exchange round trip.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// ErrNoKey is returned when a user has no key file.
var ErrNoKey = errors.New("no identity key")

// EncryptedKeyFile is the on-disk form of a passphrase-protected private key.
type EncryptedKeyFile struct {
	Version    int       `json:"version"`
	Algorithm  string    `json:"algorithm"`
	KDF        string    `json:"kdf"`
	KDFParams  KDFParams `json:"kdf_params"`
	Public     string    `json:"public"`
	Nonce      string    `json:"nonce"`
	Ciphertext string    `json:"ciphertext"`
}

// KDFParams holds Argon2id parameters.
type KDFParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	Salt    string `json:"salt"` // base64-encoded
}

// DefaultKDFParams returns the Argon2id cost used for new key files.
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:    3,
		Memory:  65536, // 64MB
		Threads: 4,
	}
}

var kdfParams = DefaultKDFParams()

// Identity is a user's X25519 key pair.
type Identity struct {
	UserID  string
	Public  []byte
	private []byte
}

// GenerateIdentity creates a new key pair for userID.
func GenerateIdentity(userID string) (*Identity, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: userID, Public: pub, private: priv}, nil
}

// Fingerprint returns sha256:{hex} of key.
func Fingerprint(key []byte) string {
	hash := sha256.Sum256(key)
	return "sha256:" + hex.EncodeToString(hash[:])
}

func privatePath(dir, userID string) string { return filepath.Join(dir, userID+".key") }
func publicPath(dir, userID string) string  { return filepath.Join(dir, userID+".pub") }

// HasIdentity reports whether userID has a private key file in dir.
func HasIdentity(dir, userID string) bool {
	_, err := os.Stat(privatePath(dir, userID))
	return err == nil
}

// Save writes the identity to dir: the private key encrypted under
// passphrase, the public key in the clear for peers.
func (id *Identity) Save(dir string, passphrase []byte) error {
	if len(passphrase) == 0 {
		return fmt.Errorf("passphrase is empty")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	params := kdfParams
	params.Salt = base64.StdEncoding.EncodeToString(salt)
	derived := argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Threads, chacha20poly1305.KeySize)

	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	file := EncryptedKeyFile{
		Version:    1,
		Algorithm:  "xchacha20-poly1305",
		KDF:        "argon2id",
		KDFParams:  params,
		Public:     base64.StdEncoding.EncodeToString(id.Public),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, id.private, []byte(id.UserID))),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(privatePath(dir, id.UserID), data, 0o600); err != nil {
		return err
	}
	return os.WriteFile(publicPath(dir, id.UserID), []byte(file.Public+"\n"), 0o644)
}

// LoadIdentity decrypts userID's key file from dir.
func LoadIdentity(dir, userID string, passphrase []byte) (*Identity, error) {
	data, err := os.ReadFile(privatePath(dir, userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", userID, ErrNoKey)
		}
		return nil, err
	}
	var file EncryptedKeyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse key file: %w", err)
	}
	if file.Version != 1 {
		return nil, fmt.Errorf("unsupported key file version: %d", file.Version)
	}
	if file.Algorithm != "xchacha20-poly1305" {
		return nil, fmt.Errorf("unsupported algorithm: %s", file.Algorithm)
	}
	if file.KDF != "argon2id" {
		return nil, fmt.Errorf("unsupported KDF: %s", file.KDF)
	}

	salt, err := base64.StdEncoding.DecodeString(file.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	derived := argon2.IDKey(passphrase, salt, file.KDFParams.Time, file.KDFParams.Memory, file.KDFParams.Threads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(derived)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(file.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(file.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	priv, err := aead.Open(nil, nonce, ciphertext, []byte(userID))
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w (wrong passphrase?)", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: userID, Public: pub, private: priv}, nil
}

// LoadPublic reads a peer's public key from dir.
func LoadPublic(dir, userID string) ([]byte, error) {
	data, err := os.ReadFile(publicPath(dir, userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", userID, ErrNoKey)
		}
		return nil, err
	}
	pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(pub) != curve25519.PointSize {
		return nil, fmt.Errorf("public key for %s has %d bytes", userID, len(pub))
	}
	return pub, nil
}
