// Package pagination slices a snapshot's file list into bounded pages and
// seals the continuation tokens that link them.
package pagination

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/florinutz/deltashare/sharingerr"
)

const (
	keyInfo      = "deltashare pagination token v1"
	tokenVersion = 1
	minSecretLen = 16
)

// Token is the decoded content of a continuation token.
type Token struct {
	Version  int64 `json:"v"`
	Offset   int   `json:"o"`
	PageSize int   `json:"n,omitempty"`
	// Fingerprint binds the token to the request parameters that shaped the
	// file list (predicate hints).
	Fingerprint string `json:"f,omitempty"`
}

type payload struct {
	Format int `json:"t"`
	Token
}

// Codec seals and opens tokens. Tokens are bound to the table they were
// issued for and open only with the same secret.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the sealing key from secret. An empty secret generates a
// random key, so issued tokens are only valid for the life of the process.
func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("token secret too short: %d bytes, need at least %d", len(secret), minSecretLen)
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive token key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init token cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Seal encodes tok for tableID.
func (c *Codec) Seal(tableID string, tok Token) (string, error) {
	plain, err := json.Marshal(payload{Format: tokenVersion, Token: tok})
	if err != nil {
		return "", fmt.Errorf("encode token: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("token nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, []byte(tableID))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Open decodes a token issued for tableID. Every failure is an
// InvalidPaginationTokenError.
func (c *Codec) Open(tableID, s string) (Token, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, &sharingerr.InvalidPaginationTokenError{Reason: "not a token", Err: err}
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return Token{}, &sharingerr.InvalidPaginationTokenError{Reason: "truncated"}
	}
	plain, err := c.aead.Open(nil, raw[:ns], raw[ns:], []byte(tableID))
	if err != nil {
		return Token{}, &sharingerr.InvalidPaginationTokenError{Reason: "not issued for this table"}
	}
	var p payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return Token{}, &sharingerr.InvalidPaginationTokenError{Reason: "malformed payload", Err: err}
	}
	if p.Format != tokenVersion {
		return Token{}, &sharingerr.InvalidPaginationTokenError{Reason: fmt.Sprintf("unsupported token format %d", p.Format)}
	}
	if p.Offset < 0 || p.Version < 0 {
		return Token{}, &sharingerr.InvalidPaginationTokenError{Reason: "negative cursor"}
	}
	return p.Token, nil
}

// IsInvalid reports whether err is a token rejection.
func IsInvalid(err error) bool {
	var it *sharingerr.InvalidPaginationTokenError
	return errors.As(err, &it)
}
