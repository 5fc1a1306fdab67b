package resource

import (
	"context"

	"github.com/renewdesk/renewctl/internal/gateway"
)

// User is an account as listed by the users endpoint.
type User struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Surname    string `json:"surname"`
	AvatarPath string `json:"avatar_path,omitempty"`
	Email      string `json:"email"`
	UserType   string `json:"user_type"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// Profile is the signed-in user's editable profile.
type Profile struct {
	ID                   string `json:"id,omitempty"`
	Name                 string `json:"name,omitempty"`
	Surname              string `json:"surname,omitempty"`
	Email                string `json:"email,omitempty"`
	AvatarPath           string `json:"avatar_path,omitempty"`
	AvatarURL            string `json:"avatar_url,omitempty"`
	CountryID            int64  `json:"country_id,omitempty"`
	UserType             string `json:"user_type,omitempty"`
	TelCell              string `json:"tel_cell,omitempty"`
	Password             string `json:"password,omitempty"`
	PasswordConfirmation string `json:"password_confirmation,omitempty"`
}

// Users is the users endpoint plus the profile sub-resources.
type Users struct {
	*Client[User]
}

// NewUsers returns a Users client.
func NewUsers(gw *gateway.Gateway) *Users {
	return &Users{Client: NewClient[User](gw, "users")}
}

// Profile fetches the signed-in user's profile.
func (u *Users) Profile(ctx context.Context) (*Profile, error) {
	resp, err := u.gw.Get(ctx, u.path("profile"))
	if err != nil {
		return nil, err
	}
	p, err := Decode[Profile](resp)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile saves p and returns the stored profile.
func (u *Users) UpdateProfile(ctx context.Context, p Profile) (*Profile, error) {
	resp, err := u.gw.Post(ctx, u.path("profile"), p)
	if err != nil {
		return nil, err
	}
	out, err := Decode[Profile](resp)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
