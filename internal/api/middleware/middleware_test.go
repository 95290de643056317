package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	internaljwt "chat-sync/internal/jwt"
	"chat-sync/internal/model"
)

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.HandlerFunc) http.HandlerFunc {
			return func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next(w, r)
			}
		}
	}

	h := Chain(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}, mark("a"), mark("b"))
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "handler" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS(DefaultCORSConfig([]string{"http://app.test"}))(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://app.test")
	h(rec, req)
	if rec.Code != http.StatusOK || called {
		t.Fatalf("expected preflight to be answered, status=%d called=%v", rec.Code, called)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://app.test" {
		t.Fatalf("missing allow origin header")
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden preflight, got %d", rec.Code)
	}
}

func TestValidateJWTMiddleware(t *testing.T) {
	issuer, err := internaljwt.NewIssuer("secret", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer error: %v", err)
	}
	operatorToken, _ := issuer.CreateToken(model.Actor{ID: "op-1", Role: model.RoleCashier}, 0)
	customerToken, _ := issuer.CreateToken(model.Actor{ID: "cust-1", Role: model.RoleUser}, 0)

	var seen model.Actor
	h := ValidateJWTMiddleware(issuer, model.RoleCashier, model.RoleAdmin)(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "wrong role", header: "Bearer " + customerToken.AccessToken, status: http.StatusForbidden},
		{name: "operator", header: "Bearer " + operatorToken.AccessToken, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			h(rec, req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
		})
	}

	if seen.ID != "op-1" || seen.Role != model.RoleCashier {
		t.Fatalf("unexpected actor in context %+v", seen)
	}
}
