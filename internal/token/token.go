// Package token decodes the compact signed tokens issued by the renewal API.
//
// The client never verifies signatures: the server is the authority on
// whether a token is genuine. Decoding only exists so the client can read
// identity claims and decide when a token is about to expire.
package token

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultBuffer is how long before its real expiry a token is treated as expired.
const DefaultBuffer = 60 * time.Second

// User type discriminators carried in the user_type claim.
const (
	UserTypeAdmin      = "Admin"
	UserTypeSuperAdmin = "Super Admin"
	UserTypeUser       = "User"
)

// ErrMalformed is returned for tokens that cannot be decoded.
var ErrMalformed = errors.New("malformed token")

// DecodedToken holds the claims of an access token.
// It is derived on demand and never persisted on its own.
type DecodedToken struct {
	Subject      string
	Name         string
	Surname      string
	Email        string
	AvatarURL    string
	ProfileImage string
	UserType     string
	Permissions  []string
	EntityType   string
	IssuedAt     *time.Time
	ExpiresAt    *time.Time
}

var parser = jwt.NewParser()

// Decode parses the payload of a compact token without verifying its signature.
// Any failure is reported as ErrMalformed; Decode never panics on bad input.
func Decode(raw string) (tok *DecodedToken, err error) {
	defer func() {
		if r := recover(); r != nil {
			tok, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three segments", ErrMalformed)
	}

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	d := &DecodedToken{
		Subject:      stringClaim(claims, "sub"),
		Name:         stringClaim(claims, "name"),
		Surname:      stringClaim(claims, "surname"),
		Email:        stringClaim(claims, "email"),
		AvatarURL:    stringClaim(claims, "avatar_url"),
		ProfileImage: stringClaim(claims, "profile_image"),
		UserType:     stringClaim(claims, "user_type"),
		EntityType:   stringClaim(claims, "entity_type"),
		Permissions:  stringsClaim(claims, "permissions"),
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformed, err)
	}
	if exp != nil {
		t := exp.Time
		d.ExpiresAt = &t
	}
	iat, err := claims.GetIssuedAt()
	if err != nil {
		return nil, fmt.Errorf("%w: iat: %v", ErrMalformed, err)
	}
	if iat != nil {
		t := iat.Time
		d.IssuedAt = &t
	}

	return d, nil
}

// IsValid reports whether d is still usable at now, treating it as expired
// buffer early. A token without an exp claim is never valid.
//
// This is the single definition of "still usable" for the whole client.
func IsValid(d *DecodedToken, buffer time.Duration, now time.Time) bool {
	if d == nil || d.ExpiresAt == nil {
		return false
	}
	return d.ExpiresAt.After(now.Add(buffer))
}

// HasPermission reports whether the token grants permission p.
func (d *DecodedToken) HasPermission(p string) bool {
	if d == nil {
		return false
	}
	return slices.Contains(d.Permissions, p)
}

// IsAdmin reports whether the token belongs to an admin user.
func (d *DecodedToken) IsAdmin() bool {
	return d != nil && d.UserType == UserTypeAdmin
}

// IsSuperAdmin reports whether the token belongs to a super admin user.
func (d *DecodedToken) IsSuperAdmin() bool {
	return d != nil && d.UserType == UserTypeSuperAdmin
}

// DisplayName joins name and surname.
func (d *DecodedToken) DisplayName() string {
	if d == nil {
		return ""
	}
	return strings.TrimSpace(d.Name + " " + d.Surname)
}

// Avatar prefers the uploaded profile image over the avatar URL.
func (d *DecodedToken) Avatar() string {
	if d == nil {
		return ""
	}
	if d.ProfileImage != "" {
		return d.ProfileImage
	}
	return d.AvatarURL
}

func stringClaim(c jwt.MapClaims, key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func stringsClaim(c jwt.MapClaims, key string) []string {
	switch v := c[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}
