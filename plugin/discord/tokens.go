package discord

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/oauth2"
)

const (
	tokenFileName = "discord_tokens.enc"

	keyIterations = 100_000
	keyLength     = 32
)

// tokenKeySalt is fixed: the derived key only has to differ per secret, not
// per installation.
var tokenKeySalt = []byte("guildsage.discord.tokens.v1")

var (
	// ErrNoToken is returned when no token has been stored yet.
	ErrNoToken = errors.New("discord: no stored token")

	// ErrInvalidTokenFile is returned when the token file cannot be
	// decrypted, usually because the secret changed.
	ErrInvalidTokenFile = errors.New("discord: token file is corrupt or the secret changed")
)

// TokenStore persists the OAuth token encrypted at rest with AES-256-GCM.
// The key is derived from the configured secret with PBKDF2, so the file on
// disk is useless without the profile.
type TokenStore struct {
	path string
	key  []byte
}

// NewTokenStore creates a token store under dataDir.
func NewTokenStore(dataDir, secret string) (*TokenStore, error) {
	if secret == "" {
		return nil, errors.New("discord: token store secret is required")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create token dir: %w", err)
	}
	return &TokenStore{
		path: filepath.Join(dataDir, tokenFileName),
		key:  pbkdf2.Key([]byte(secret), tokenKeySalt, keyIterations, keyLength, sha256.New),
	}, nil
}

// Save encrypts and writes the token.
func (ts *TokenStore) Save(token *oauth2.Token) error {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	sealed, err := ts.seal(plaintext)
	if err != nil {
		return err
	}
	if err := os.WriteFile(ts.path, []byte(sealed), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// Load reads and decrypts the stored token.
func (ts *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(ts.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoToken
		}
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	plaintext, err := ts.open(string(data))
	if err != nil {
		return nil, err
	}
	var token oauth2.Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return nil, ErrInvalidTokenFile
	}
	return &token, nil
}

// Delete removes the stored token. Deleting a missing token is a no-op.
func (ts *TokenStore) Delete() error {
	err := os.Remove(ts.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete token file: %w", err)
	}
	return nil
}

// Token returns a usable token, refreshing and re-persisting it when
// expired. A nil conf disables refresh.
func (ts *TokenStore) Token(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error) {
	stored, err := ts.Load()
	if err != nil {
		return nil, err
	}
	if stored.Valid() {
		return stored, nil
	}
	if conf == nil || stored.RefreshToken == "" {
		return nil, errors.New("discord: stored token expired and cannot be refreshed")
	}

	fresh, err := conf.TokenSource(ctx, stored).Token()
	if err != nil {
		return nil, fmt.Errorf("discord: token refresh failed: %w", err)
	}
	if err := ts.Save(fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (ts *TokenStore) seal(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(ts.key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (ts *TokenStore) open(sealed string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidTokenFile
	}

	block, err := aes.NewCipher(ts.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidTokenFile
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidTokenFile
	}
	return plaintext, nil
}
