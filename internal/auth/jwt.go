package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// MaintenanceHeader carries the shared secret of the scheduler and deploy tooling.
const MaintenanceHeader = "X-Maintenance-Secret"

// Claims defines the JWT claims structure.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

type contextKey string

const (
	// UserClaimsKey is the context key for user claims.
	UserClaimsKey = contextKey("userClaims")
	// MaintenanceKey marks requests authenticated with the maintenance secret.
	MaintenanceKey = contextKey("maintenance")
)

// Authenticator issues and verifies the credentials accepted by the API.
type Authenticator struct {
	jwtKey            []byte
	maintenanceSecret string
}

// NewAuthenticator creates an Authenticator. An empty maintenanceSecret disables
// maintenance access.
func NewAuthenticator(jwtSecret, maintenanceSecret string) *Authenticator {
	return &Authenticator{jwtKey: []byte(jwtSecret), maintenanceSecret: maintenanceSecret}
}

// GenerateJWT creates a new JWT for a given user.
func (a *Authenticator) GenerateJWT(userID string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtKey)
}

// ValidateJWT parses and validates a JWT string.
func (a *Authenticator) ValidateJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return a.jwtKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user")
	}
	return claims, nil
}

func bearerToken(r *http.Request) string {
	// 1. Try to get the token from the Authorization header
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			return token
		}
	}
	// 2. If not in header, fall back to the cookie
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	// 3. Browsers cannot set headers on websocket upgrades
	return r.URL.Query().Get("token")
}

func (a *Authenticator) maintenanceOK(r *http.Request) bool {
	if a.maintenanceSecret == "" {
		return false
	}
	given := r.Header.Get(MaintenanceHeader)
	return given != "" && subtle.ConstantTimeCompare([]byte(given), []byte(a.maintenanceSecret)) == 1
}

func (a *Authenticator) withClaims(w http.ResponseWriter, r *http.Request, next http.Handler) {
	tokenStr := bearerToken(r)
	if tokenStr == "" {
		http.Error(w, "Missing auth token", http.StatusUnauthorized)
		return
	}

	claims, err := a.ValidateJWT(tokenStr)
	if err != nil {
		log.Debug().Err(err).Msg("Rejected auth token")
		http.Error(w, "Invalid auth token", http.StatusUnauthorized)
		return
	}

	ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
	next.ServeHTTP(w, r.WithContext(ctx))
}

// JWTMiddleware creates a middleware for protecting routes.
func (a *Authenticator) JWTMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.withClaims(w, r, next)
		})
	}
}

// MaintenanceMiddleware only admits requests carrying the maintenance secret.
func (a *Authenticator) MaintenanceMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.maintenanceOK(r) {
				http.Error(w, "Invalid maintenance secret", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), MaintenanceKey, true)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// JWTOrMaintenanceMiddleware admits either a valid maintenance secret or a valid JWT.
func (a *Authenticator) JWTOrMaintenanceMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(MaintenanceHeader) != "" {
				if !a.maintenanceOK(r) {
					http.Error(w, "Invalid maintenance secret", http.StatusUnauthorized)
					return
				}
				ctx := context.WithValue(r.Context(), MaintenanceKey, true)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			a.withClaims(w, r, next)
		})
	}
}

// ClaimsFromContext returns the claims stored by JWTMiddleware.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(UserClaimsKey).(*Claims)
	return claims, ok
}

// IsMaintenance reports whether the request was authenticated with the maintenance secret.
func IsMaintenance(ctx context.Context) bool {
	ok, _ := ctx.Value(MaintenanceKey).(bool)
	return ok
}
