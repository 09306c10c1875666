package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/metric/noop"
)

type recordingRecorder struct {
	mu      sync.Mutex
	reasons []string
	success []bool
}

func (r *recordingRecorder) RecordVerification(_ context.Context, success bool, reason string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	r.success = append(r.success, success)
}

func (r *recordingRecorder) last() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reasons) == 0 {
		return "", false
	}
	return r.reasons[len(r.reasons)-1], r.success[len(r.success)-1]
}

type jwksFixture struct {
	key      *rsa.PrivateKey
	server   *httptest.Server
	requests atomic.Int32
	failing  atomic.Bool
}

func newJWKSFixture(t *testing.T, kid string) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	jwk := jose.JSONWebKey{Key: &key.PublicKey, KeyID: kid, Algorithm: jwt.SigningMethodRS256.Alg(), Use: "sig"}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if f.failing.Load() {
			http.Error(w, "unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{jwk}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSCacheHonoursMaxAge(t *testing.T) {
	fixture := newJWKSFixture(t, "key1")
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(fixture.server.URL, WithJWKSClock(func() time.Time { return now }))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		got, err := cache.Key(ctx, "key1")
		if err != nil {
			t.Fatalf("cache.Key: %v", err)
		}
		if _, ok := got.(*rsa.PublicKey); !ok {
			t.Fatalf("expected *rsa.PublicKey, got %T", got)
		}
	}
	if n := fixture.requests.Load(); n != 1 {
		t.Fatalf("expected single JWKS fetch, got %d", n)
	}

	now = now.Add(601 * time.Second)
	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key after expiry: %v", err)
	}
	if n := fixture.requests.Load(); n != 2 {
		t.Fatalf("expected refetch after max-age, got %d fetches", n)
	}
}

func TestJWKSCacheThrottlesUnknownKids(t *testing.T) {
	fixture := newJWKSFixture(t, "key1")
	now := time.Unix(1_000_000, 0)
	cache := NewJWKSCache(fixture.server.URL, WithJWKSClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := cache.Key(ctx, "key1"); err != nil {
		t.Fatalf("cache.Key: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := cache.Key(ctx, "forged"); !errors.Is(err, ErrJWKSKeyNotFound) {
			t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
		}
	}
	if n := fixture.requests.Load(); n != 1 {
		t.Fatalf("expected unknown kids to reuse the fresh set, got %d fetches", n)
	}

	now = now.Add(minJWKSMissRefresh)
	if _, err := cache.Key(ctx, "forged"); !errors.Is(err, ErrJWKSKeyNotFound) {
		t.Fatalf("expected ErrJWKSKeyNotFound, got %v", err)
	}
	if n := fixture.requests.Load(); n != 2 {
		t.Fatalf("expected one refetch once the throttle window passed, got %d", n)
	}
}

func TestMaxAge(t *testing.T) {
	cases := map[string]time.Duration{
		"max-age=60":                 time.Minute,
		"public, max-age=3600, must": time.Hour,
		"no-store":                   0,
		"max-age=abc":                0,
	}
	for header, want := range cases {
		got, _ := maxAge(header)
		if got != want {
			t.Fatalf("%q: expected %s, got %s", header, want, got)
		}
	}
}

func setupOIDC(t *testing.T, claims jwt.MapClaims) (*OIDCValidator, *recordingRecorder, *jwksFixture, string) {
	t.Helper()
	fixture := newJWKSFixture(t, "svc-key")
	now := time.Unix(1_700_000_000, 0)

	original := jwt.TimeFunc
	jwt.TimeFunc = func() time.Time { return now }
	t.Cleanup(func() { jwt.TimeFunc = original })

	recorder := &recordingRecorder{}
	validator := NewOIDCValidator(
		NewJWKSCache(fixture.server.URL, WithJWKSClock(func() time.Time { return now })),
		WithOIDCRecorder(recorder),
		WithOIDCClock(func() time.Time { return now }),
	)

	base := jwt.MapClaims{
		"aud":   []string{"https://commerce.example.com"},
		"iss":   "https://accounts.google.com",
		"sub":   "1234567890",
		"email": "scheduler@project.iam.gserviceaccount.com",
		"exp":   float64(now.Add(time.Hour).Unix()),
		"iat":   float64(now.Unix()),
	}
	for k, v := range claims {
		base[k] = v
	}
	return validator, recorder, fixture, fixture.sign(t, "svc-key", base)
}

func TestRequireOIDCAcceptsServiceToken(t *testing.T) {
	validator, recorder, _, token := setupOIDC(t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/idempotency:cleanup", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	validator.RequireOIDC("https://commerce.example.com", []string{"https://accounts.google.com"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc, ok := ServiceIdentityFromContext(r.Context())
			if !ok {
				t.Fatalf("expected service identity in context")
			}
			if svc.Email != "scheduler@project.iam.gserviceaccount.com" || svc.Subject != "1234567890" {
				t.Fatalf("unexpected service identity: %+v", svc)
			}
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if reason, success := recorder.last(); !success || reason != "ok" {
		t.Fatalf("unexpected record: %s %v", reason, success)
	}
}

func TestRequireOIDCUsesIAPHeader(t *testing.T) {
	validator, _, _, token := setupOIDC(t, jwt.MapClaims{
		"aud": "/projects/123/global/backendServices/456",
		"iss": "https://cloud.google.com/iap",
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/test", nil)
	req.Header.Set("X-Goog-Iap-Jwt-Assertion", token)

	validator.RequireOIDC("/projects/123/global/backendServices/456", []string{"https://cloud.google.com/iap"})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		})).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
}

func TestRequireOIDCRejections(t *testing.T) {
	cases := []struct {
		name     string
		claims   jwt.MapClaims
		audience string
		noToken  bool
		jwksDown bool
		status   int
		reason   string
	}{
		{name: "audience mismatch", audience: "https://other.example.com", status: http.StatusUnauthorized, reason: "audience_mismatch"},
		{name: "issuer mismatch", claims: jwt.MapClaims{"iss": "https://evil.example.com"}, audience: "https://commerce.example.com", status: http.StatusUnauthorized, reason: "issuer_mismatch"},
		{name: "expired", claims: jwt.MapClaims{"exp": float64(1_600_000_000)}, audience: "https://commerce.example.com", status: http.StatusUnauthorized, reason: "token_invalid"},
		{name: "missing token", audience: "https://commerce.example.com", noToken: true, status: http.StatusUnauthorized, reason: "token_missing"},
		{name: "audience unset", audience: "", status: http.StatusServiceUnavailable, reason: "audience_not_configured"},
		{name: "jwks down", audience: "https://commerce.example.com", jwksDown: true, status: http.StatusServiceUnavailable, reason: "jwks_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			validator, recorder, fixture, token := setupOIDC(t, tc.claims)
			fixture.failing.Store(tc.jwksDown)

			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/internal/test", nil)
			if !tc.noToken {
				req.Header.Set("Authorization", "Bearer "+token)
			}

			validator.RequireOIDC(tc.audience, []string{"https://accounts.google.com"})(
				http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
					t.Fatalf("handler should not be called")
				})).ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			if reason, success := recorder.last(); success || reason != tc.reason {
				t.Fatalf("expected failed %s record, got %s (success=%v)", tc.reason, reason, success)
			}
		})
	}
}

func TestNewOTelVerificationRecorder(t *testing.T) {
	recorder, err := NewOTelVerificationRecorder(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("NewOTelVerificationRecorder: %v", err)
	}
	recorder.RecordVerification(context.Background(), true, "ok", 3*time.Millisecond)
}
