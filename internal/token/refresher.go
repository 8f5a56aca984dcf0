package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vdavid/mailsync/internal/models"
	"golang.org/x/oauth2"
)

// DefaultTokenLifetime is used when the provider does not report expires_in.
const DefaultTokenLifetime = 3600 * time.Second

// ErrRefreshTokenInvalid is returned by a Refresher when the provider rejects the refresh token itself.
var ErrRefreshTokenInvalid = errors.New("refresh token rejected by provider")

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*models.TokenUpdate, error)
}

// OAuthRefresher refreshes tokens against the provider's OAuth token endpoint.
type OAuthRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

// NewOAuthRefresher creates a refresher for the given client credentials and token URL.
func NewOAuthRefresher(clientID, clientSecret, tokenURL string, timeout time.Duration) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// Refresh performs a refresh_token grant. A 400 or 401 answer means the refresh token is
// no longer usable and is reported as ErrRefreshTokenInvalid; everything else is transient.
func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*models.TokenUpdate, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)

	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			switch retrieveErr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized:
				return nil, fmt.Errorf("%w: %s", ErrRefreshTokenInvalid, retrieveErr.ErrorCode)
			}
		}
		return nil, fmt.Errorf("token endpoint request failed: %w", err)
	}

	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = r.now().Add(DefaultTokenLifetime)
	}

	return &models.TokenUpdate{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}
