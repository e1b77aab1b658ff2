package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"
)

const jwtLifespan = time.Hour

var (
	errJWTEmpty          = errors.New("bearer token not provided")
	errAuthNotConfigured = errors.New("authentication is not configured")
)

// LoginPayload carries the operator password.
type LoginPayload struct {
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	return nil
}

// JWTPayload carries a signed token back to the client.
type JWTPayload struct {
	SignedToken string `json:"token"`
}

// newJWT produces a standard format token for the monitor API.
func newJWT() (string, error) {
	now := time.Now().UTC()
	claims := jwt.StandardClaims{
		Issuer:    "cantact",
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(jwtLifespan).Unix(),
		Subject:   "operator",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString([]byte(ENV.SECRET))
}

// Login verifies the operator password against the bcrypt hash from the
// environment and hands out a token.
func Login(w http.ResponseWriter, r *http.Request) {
	if ENV.PASSWORD_HASH == "" || ENV.SECRET == "" {
		render.Render(w, r, ErrUnauthorized(errAuthNotConfigured))
		return
	}

	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ENV.PASSWORD_HASH), []byte(data.Password)); err != nil {
		render.Render(w, r, ErrUnauthorized(errors.New("invalid password")))
		return
	}

	tokenString, err := newJWT()
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, JWTPayload{tokenString})
}

// ValidateJWT guards mutating routes with a bearer token.
func ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ENV.SECRET == "" {
			render.Render(w, r, ErrUnauthorized(errAuthNotConfigured))
			return
		}

		tokenStr := r.URL.Query().Get("jwt")
		if tokenStr == "" {
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 7 && strings.EqualFold(bearer[0:6], "bearer") {
				tokenStr = bearer[7:]
			}
		}
		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(errJWTEmpty))
			return
		}

		token, parseErr := jwt.ParseWithClaims(tokenStr,
			&jwt.StandardClaims{},
			func(*jwt.Token) (interface{}, error) { return []byte(ENV.SECRET), nil })
		if parseErr != nil || !token.Valid {
			err := errors.New("invalid token")
			var jwterr *jwt.ValidationError
			if errors.As(parseErr, &jwterr) && jwterr.Errors&jwt.ValidationErrorExpired != 0 {
				err = errors.New("token has expired")
			}
			render.Render(w, r, ErrUnauthorized(err))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyJWT, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey int

const ctxKeyJWT ctxKey = iota
