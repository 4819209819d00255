package engine

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// TokenStore persists delegated-access tokens per database and user.
// A nil token with a nil error means no token has been issued yet.
type TokenStore interface {
	Token(ctx context.Context, databaseID, userID int64) (*oauth2.Token, error)
	SaveToken(ctx context.Context, databaseID, userID int64, token *oauth2.Token) error
}

// accessToken resolves the delegated-access token for an impersonated
// connection, refreshing and re-persisting it when expired. Returns an empty
// token when the database has no delegated-auth config, no user identity is
// available, or no token was ever issued.
func (m *Manager) accessToken(ctx context.Context, db Database, userID int64) (string, error) {
	cfg := db.OAuth2Config()
	if cfg == nil || userID == 0 || m.tokens == nil {
		return "", nil
	}

	token, err := m.tokens.Token(ctx, db.ID(), userID)
	if err != nil {
		return "", errors.Join(ErrTokenRefresh, err)
	}
	if token == nil {
		return "", nil
	}

	if !token.Valid() {
		refreshed, err := cfg.TokenSource(ctx, token).Token()
		if err != nil {
			return "", errors.Join(ErrTokenRefresh, err)
		}
		if err := m.tokens.SaveToken(ctx, db.ID(), userID, refreshed); err != nil {
			return "", errors.Join(ErrTokenRefresh, err)
		}
		token = refreshed
	}

	return token.AccessToken, nil
}
