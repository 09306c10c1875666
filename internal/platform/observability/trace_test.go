package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
)

const sampleTraceID = "105445aa7843bc8bf206b12000100000"

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext(sampleTraceID + "/12345;o=1")
	if !ok {
		t.Fatalf("expected header to parse")
	}
	if sc.TraceID().String() != sampleTraceID || !sc.IsSampled() || !sc.IsRemote() {
		t.Fatalf("unexpected span context %+v", sc)
	}
	if got := formatCloudTraceContext(sc); got != sampleTraceID+"/12345;o=1" {
		t.Fatalf("round trip mismatch: %s", got)
	}

	for _, header := range []string{"", "nope", sampleTraceID + "/abc", sampleTraceID + "/0;o=1", "xyz/1"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewareAdoptsCloudTraceParent(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("demo-project")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set(cloudTraceHeader, sampleTraceID+"/12345;o=1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if info.TraceID != sampleTraceID {
		t.Fatalf("expected trace %s, got %q", sampleTraceID, info.TraceID)
	}
	if got := info.Resource(); got != "projects/demo-project/traces/"+sampleTraceID {
		t.Fatalf("unexpected trace resource %s", got)
	}
	if rr.Header().Get(cloudTraceHeader) == "" {
		t.Fatalf("expected trace header on the response")
	}
}

func TestTraceMiddlewarePrefersTraceparent(t *testing.T) {
	var info requestctx.TraceInfo
	handler := TraceMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, sampleTraceID+"/12345;o=1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if info.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %q", info.TraceID)
	}
}
