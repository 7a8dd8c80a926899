package fiware

import (
	"context"
	"net/http"
)

type User struct {
	ID       string `json:"id,omitempty"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Enabled  bool   `json:"enabled,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
}

// NewUser is the Keyrock user creation payload.
type NewUser struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// GetUsers lists Keyrock users.
func (c *Client) GetUsers(ctx context.Context) ([]User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/users", nil, false)
	if err != nil {
		return nil, err
	}
	var body struct {
		Users []User `json:"users"`
	}
	if err := decode(resp.Data, &body); err != nil {
		return nil, err
	}
	if body.Users == nil {
		body.Users = []User{}
	}
	return body.Users, nil
}

func (c *Client) CreateUser(ctx context.Context, user NewUser) (User, error) {
	resp, err := c.do(ctx, http.MethodPost, "/v1/users", map[string]any{"user": user}, false)
	if err != nil {
		return User{}, err
	}
	var body struct {
		User User `json:"user"`
	}
	if err := decode(resp.Data, &body); err != nil {
		return User{}, err
	}
	if body.User.Username == "" {
		body.User.Username = user.Username
		body.User.Email = user.Email
	}
	return body.User, nil
}
