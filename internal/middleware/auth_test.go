package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rajpalom13/move-meal-sub000/internal/model"
)

func actorRecorder(t *testing.T, called *bool, want model.Actor) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		actor, ok := GetActorFromContext(r.Context())
		if !ok {
			t.Fatalf("actor not in context")
		}
		if actor != want {
			t.Fatalf("actor from context = %+v, want %+v", actor, want)
		}
	})
}

func TestAuthMiddleware_WithValidCookie(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour)

	nextCalled := false
	next := actorRecorder(t, &nextCalled, model.Actor{ID: 42, Gender: "female"})

	w := httptest.NewRecorder()
	if _, err := m.SetAuthCookie(w, &model.User{ID: 42, Gender: "female"}); err != nil {
		t.Fatalf("SetAuthCookie error: %v", err)
	}
	resCookies := w.Result().Cookies()
	if len(resCookies) == 0 {
		t.Fatalf("no cookies set by SetAuthCookie")
	}

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.AddCookie(resCookies[0])

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_WithBearerToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour)

	token, _, err := m.IssueToken(&model.User{ID: 7})
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}

	nextCalled := false
	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(actorRecorder(t, &nextCalled, model.Actor{ID: 7})).ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour)
	other := NewAuthMiddleware("other-secret", time.Hour)

	foreign, _, err := other.IssueToken(&model.User{ID: 1})
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}

	expired := NewAuthMiddleware("test-secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	stale, _, err := expired.IssueToken(&model.User{ID: 1})
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "no token"},
		{name: "garbage", header: "Bearer not-a-jwt"},
		{name: "foreign secret", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + stale},
		{name: "alg none", header: "Bearer " + none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Result().StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
			}
		})
	}
}

func TestParseTokenErrors(t *testing.T) {
	m := NewAuthMiddleware("test-secret", time.Hour)

	token, _, err := m.IssueToken(&model.User{ID: 0})
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if _, err := m.ParseToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for zero subject, got %v", err)
	}
}
