package auth

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// VerificationRecorder observes the outcome of each service token check.
type VerificationRecorder interface {
	RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration)
}

type otelVerificationRecorder struct {
	total   metric.Int64Counter
	latency metric.Float64Histogram
}

// NewOTelVerificationRecorder reports verifications as auth.oidc.verifications and auth.oidc.duration.
func NewOTelVerificationRecorder(meter metric.Meter) (VerificationRecorder, error) {
	total, err := meter.Int64Counter("auth.oidc.verifications",
		metric.WithDescription("Service token verifications by outcome"))
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram("auth.oidc.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Service token verification latency"))
	if err != nil {
		return nil, err
	}
	return &otelVerificationRecorder{total: total, latency: latency}, nil
}

func (r *otelVerificationRecorder) RecordVerification(ctx context.Context, success bool, reason string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("success", success), attribute.String("reason", reason))
	r.total.Add(ctx, 1, attrs)
	r.latency.Record(ctx, float64(duration)/float64(time.Millisecond), attrs)
}

// OIDCValidator guards internal endpoints with Google-signed OIDC or IAP tokens.
type OIDCValidator struct {
	cache    *JWKSCache
	logger   *zap.Logger
	recorder VerificationRecorder
	now      func() time.Time
}

// OIDCOption customises the validator.
type OIDCOption func(*OIDCValidator)

// WithOIDCLogger overrides the validator logger.
func WithOIDCLogger(logger *zap.Logger) OIDCOption {
	return func(v *OIDCValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithOIDCRecorder sets where verification outcomes are reported.
func WithOIDCRecorder(recorder VerificationRecorder) OIDCOption {
	return func(v *OIDCValidator) {
		v.recorder = recorder
	}
}

// WithOIDCClock injects a custom clock.
func WithOIDCClock(now func() time.Time) OIDCOption {
	return func(v *OIDCValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewOIDCValidator constructs an OIDCValidator.
func NewOIDCValidator(cache *JWKSCache, opts ...OIDCOption) *OIDCValidator {
	v := &OIDCValidator{cache: cache, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// RequireOIDC rejects requests whose token is not issued by one of issuers for audience.
func (v *OIDCValidator) RequireOIDC(audience string, issuers []string) func(http.Handler) http.Handler {
	audience = strings.TrimSpace(audience)
	issuers = nonEmpty(issuers)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()

			fail := func(status int, code, message, reason string) {
				v.record(ctx, false, reason, start)
				writeAuthError(ctx, w, status, code, message)
			}

			if audience == "" {
				fail(http.StatusServiceUnavailable, "verification_unavailable", "oidc audience not configured", "audience_not_configured")
				return
			}
			raw, source := serviceToken(r)
			if raw == "" {
				fail(http.StatusUnauthorized, "unauthenticated", "oidc token missing", "token_missing")
				return
			}
			if v.cache == nil {
				fail(http.StatusServiceUnavailable, "verification_unavailable", "oidc verification unavailable", "cache_unavailable")
				return
			}

			claims := jwt.MapClaims{}
			parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
			if _, err := parser.ParseWithClaims(raw, claims, v.cache.Keyfunc(ctx)); err != nil {
				if errors.Is(err, ErrJWKSFetchFailed) {
					v.logger.Warn("oidc jwks unavailable", zap.Error(err))
					fail(http.StatusServiceUnavailable, "invalid_token", "oidc token verification failed", "jwks_unavailable")
					return
				}
				v.logger.Info("oidc token rejected", zap.String("source", source), zap.Error(err))
				fail(http.StatusUnauthorized, "invalid_token", "oidc token verification failed", "token_invalid")
				return
			}

			issuer := stringClaim(claims, "iss")
			if len(issuers) > 0 && !slices.Contains(issuers, issuer) {
				v.logger.Info("oidc issuer mismatch", zap.String("issuer", issuer))
				fail(http.StatusUnauthorized, "invalid_token", "oidc issuer mismatch", "issuer_mismatch")
				return
			}
			if !slices.Contains(audienceClaim(claims), audience) {
				v.logger.Info("oidc audience mismatch", zap.String("expected", audience), zap.String("source", source))
				fail(http.StatusUnauthorized, "invalid_token", "oidc audience mismatch", "audience_mismatch")
				return
			}

			identity := &ServiceIdentity{
				Subject:  stringClaim(claims, "sub"),
				Email:    stringClaim(claims, "email"),
				Issuer:   issuer,
				Audience: audience,
				Claims:   map[string]any(claims),
			}
			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithServiceIdentity(ctx, identity)))
		})
	}
}

func (v *OIDCValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.recorder != nil {
		v.recorder.RecordVerification(ctx, success, reason, v.now().Sub(start))
	}
}

// serviceToken prefers the Authorization header and falls back to the IAP assertion.
func serviceToken(r *http.Request) (string, string) {
	if token, ok := bearerToken(r); ok {
		return token, "authorization"
	}
	if assertion := strings.TrimSpace(r.Header.Get("X-Goog-Iap-Jwt-Assertion")); assertion != "" {
		return assertion, "iap"
	}
	return "", ""
}
