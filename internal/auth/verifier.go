package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"chatrelay/internal/db"
	"chatrelay/internal/models"
)

// CookieName is the cookie a browser client may carry its token in.
const CookieName = "auth_token"

// lookupTimeout bounds a shared user lookup, which outlives any single caller.
const lookupTimeout = 5 * time.Second

// UserLookup resolves a durable user id.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

// IdentityVerifier turns a credential into a registered user.
type IdentityVerifier struct {
	tokens *TokenManager
	users  UserLookup
	logger *zap.Logger
	group  singleflight.Group
}

func NewIdentityVerifier(tokens *TokenManager, users UserLookup, logger *zap.Logger) *IdentityVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IdentityVerifier{tokens: tokens, users: users, logger: logger}
}

// Verify parses credential and loads the user it names. Concurrent lookups
// for the same user share one store query.
func (v *IdentityVerifier) Verify(ctx context.Context, credential string) (*models.User, error) {
	userID, err := v.tokens.Parse(credential)
	if err != nil {
		return nil, err
	}

	ch := v.group.DoChan(userID, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return v.users.GetUserByID(lookupCtx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, db.ErrUserNotFound) {
				return nil, ErrUnknownUser
			}
			v.logger.Error("identity lookup failed", zap.String("user_id", userID), zap.Error(res.Err))
			return nil, fmt.Errorf("lookup user: %w", res.Err)
		}
		user := *res.Val.(*models.User)
		user.Password = ""
		return &user, nil
	}
}

// CredentialFromRequest extracts a token from, in order, the Authorization
// bearer header, the token query parameter and the auth cookie.
func CredentialFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok && token != "" {
			return strings.TrimSpace(token)
		}
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}
