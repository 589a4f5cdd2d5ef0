package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/scope"
)

type ctxKey int

const callerKey ctxKey = iota

// InternalTokenHeader carries the shared secret of the internal ingest endpoint
const InternalTokenHeader = "X-Internal-Token"

// AccountLoader loads the account a bearer token was issued for
type AccountLoader interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*db.Account, error)
}

// Authenticator verifies HS256 bearer tokens. The token only names the account;
// role, tenant and site assignment always come from the stored account.
type Authenticator struct {
	secret   []byte
	accounts AccountLoader
	logger   *zap.Logger
}

func NewAuthenticator(secret string, accounts AccountLoader, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), accounts: accounts, logger: logger}
}

// ParseSubject validates the token and returns the account id in its subject
func (a *Authenticator) ParseSubject(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, err
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject is not an account id: %w", err)
	}
	return id, nil
}

// Middleware puts the caller of every authenticated request in the context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Missing bearer token", "")
			return
		}

		accountID, err := a.ParseSubject(tokenStr)
		if err != nil {
			a.logger.Debug("rejected bearer token", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid token", "")
			return
		}

		account, err := a.accounts.GetAccount(r.Context(), accountID)
		if errors.Is(err, db.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Unknown account", "")
			return
		}
		if err != nil {
			a.logger.Error("failed to load account", zap.Error(err), zap.String("account_id", accountID.String()))
			writeError(w, http.StatusInternalServerError, "database_error", "Failed to load account", "")
			return
		}

		ctx := WithCaller(r.Context(), scope.CallerFromAccount(account))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithCaller(ctx context.Context, c scope.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

func CallerFrom(ctx context.Context) (scope.Caller, bool) {
	c, ok := ctx.Value(callerKey).(scope.Caller)
	return c, ok
}

// InternalTokenMiddleware guards service-to-service endpoints with a shared token.
// An empty token rejects every request.
func InternalTokenMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(InternalTokenHeader)
			if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid internal token", "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
