package storage

import (
	"context"
	"strings"
)

// Credentials is the typed view over a Store used by the rest of the client.
type Credentials struct {
	Store Store
}

func NewCredentials(s Store) *Credentials { return &Credentials{Store: s} }

func (c *Credentials) Token(ctx context.Context) (string, error) {
	v, err := c.Store.Get(ctx, KeyToken)
	return strings.TrimSpace(v), err
}

func (c *Credentials) UserID(ctx context.Context) (string, error) {
	return c.Store.Get(ctx, KeyUserID)
}

func (c *Credentials) SocietyID(ctx context.Context) (string, error) {
	return c.Store.Get(ctx, KeySocietyID)
}

// Save writes the non-empty fields.
func (c *Credentials) Save(ctx context.Context, token, userID, societyID string) error {
	for k, v := range map[string]string{KeyToken: token, KeyUserID: userID, KeySocietyID: societyID} {
		if v == "" {
			continue
		}
		if err := c.Store.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (c *Credentials) Clear(ctx context.Context) error {
	for _, k := range []string{KeyToken, KeyUserID, KeySocietyID} {
		if err := c.Store.Remove(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
