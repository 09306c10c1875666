package idempotency

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	methods map[string]bool
	now     func() time.Time
	logger  *zap.Logger
}

// Option customises the middleware.
type Option func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) Option {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a key is held and its response replayed.
func WithTTL(ttl time.Duration) Option {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods.
func WithMethods(methods ...string) Option {
	return func(g *guard) {
		set := make(map[string]bool, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				set[m] = true
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *guard) {
		if now != nil {
			g.now = now
		}
	}
}

// Middleware requires an idempotency key on mutating requests and replays the first response for
// duplicates from the same caller. Responses with a 5xx status are not kept so clients may retry.
func Middleware(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		methods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !g.methods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	value := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case value == "":
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_required", "missing "+g.header+" header")
		return
	case len(value) > maxKeyLength:
		writeError(ctx, w, http.StatusBadRequest, "idempotency_key_invalid", g.header+" header is too long")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid_body", "unable to read request body")
		return
	}

	scope := requester(r)
	key := Key{Scope: scope, Value: value, Fingerprint: fingerprint(r, scope, body)}
	logger := g.logger.With(zap.String("idempotencyKey", value), zap.String("scope", scope))

	claim, err := g.store.Claim(ctx, key, g.now(), g.ttl)
	if err != nil {
		if errors.Is(err, ErrKeyReused) {
			writeError(ctx, w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
			return
		}
		logger.Error("idempotency claim failed", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch claim.Outcome {
	case Replay:
		replay(w, claim.Entry.Response)
		return
	case Busy:
		writeError(ctx, w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	capture := newCapture()
	next.ServeHTTP(capture, r)
	resp := capture.response()

	if resp.Status >= http.StatusInternalServerError {
		g.abandon(ctx, key, logger)
		capture.flushTo(w, logger)
		return
	}
	if err := g.store.Complete(ctx, key, resp, g.now(), g.ttl); err != nil {
		logger.Error("idempotency response not stored", zap.Error(err))
		g.abandon(ctx, key, logger)
		writeError(ctx, w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	capture.flushTo(w, logger)
}

func (g *guard) abandon(ctx context.Context, key Key, logger *zap.Logger) {
	if err := g.store.Abandon(ctx, key); err != nil {
		logger.Warn("idempotency key not released", zap.Error(err))
	}
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprint(r *http.Request, scope string, body []byte) string {
	parts := []string{
		r.Method,
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		scope,
		digest(body),
	}
	return digest([]byte(strings.Join(parts, "\n")))
}

// requester scopes keys to the caller. The middleware may run ahead of the route group's
// authentication, so a credential digest stands in for the identity in that case.
func requester(r *http.Request) string {
	ctx := r.Context()
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.UID != "" {
		return "user:" + identity.UID
	}
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc.Subject != "" {
		return "service:" + svc.Subject
	}
	for _, header := range []string{"Authorization", "X-Goog-Iap-Jwt-Assertion"} {
		if value := strings.TrimSpace(r.Header.Get(header)); value != "" {
			return "cred:" + digest([]byte(value))[:32]
		}
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, resp Response) {
	for name, values := range resp.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(replayHeaderName, "true")
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// capture buffers the handler response until the key state is settled.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: make(http.Header)}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capture) Write(data []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *capture) response() Response {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	return Response{Status: status, Headers: c.header.Clone(), Body: c.body.Bytes()}
}

func (c *capture) flushTo(w http.ResponseWriter, logger *zap.Logger) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.response().Status)
	if c.body.Len() == 0 {
		return
	}
	if _, err := w.Write(c.body.Bytes()); err != nil {
		logger.Debug("idempotency response write failed", zap.Error(err))
	}
}
