// Package credentials holds the session credentials, their persisted
// encoding, the storage backends and the CredentialStore that keeps the
// session fresh.
package credentials

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultKey is the storage key holding the encoded credentials.
const DefaultKey = "credentials"

// ErrCorrupt reports a stored value that could not be decoded.
var ErrCorrupt = errors.New("corrupt credentials")

// Credentials is the token pair issued by the API.
type Credentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`           // seconds, as issued
	ExpiresAt    int64  `json:"expiresAt,omitempty"` // unix milliseconds
}

// New builds credentials issued at now.
func New(access, refresh string, expiresIn int64, now time.Time) *Credentials {
	return &Credentials{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
		ExpiresAt:    now.Add(time.Duration(expiresIn) * time.Second).UnixMilli(),
	}
}

// Clone returns a copy of c.
func (c *Credentials) Clone() *Credentials {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Expiry returns ExpiresAt as a time, or the zero time when unset.
func (c *Credentials) Expiry() time.Time {
	if c == nil || c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.ExpiresAt)
}

// HasRefreshToken reports whether a refresh token is held.
func (c *Credentials) HasRefreshToken() bool {
	return c != nil && c.RefreshToken != ""
}

// Encode serializes c into its reversible storage form: base64 of the JSON record.
// The encoding is obfuscation, not encryption.
func Encode(c *Credentials) (string, error) {
	if c == nil {
		return "", errors.New("credentials: nil")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Decode reverses Encode. Any malformed input yields ErrCorrupt.
func Decode(s string) (*Credentials, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrCorrupt)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if c.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrCorrupt)
	}
	return &c, nil
}
