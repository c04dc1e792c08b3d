package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitProvider_ExportsSpansToOTLPEndpoint(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []*http.Request
	)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	origTP := otel.GetTracerProvider()
	origMP := otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(origTP)
		otel.SetMeterProvider(origMP)
	})

	shutdown, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName:  "voiceloop-test",
		OTLPEndpoint: collector.URL + "/v1/traces",
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	_, span := StartSpan(context.Background(), "turn")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) == 0 {
		t.Fatal("want spans exported on shutdown, got no requests")
	}
	r := requests[0]
	if r.Method != http.MethodPost || r.URL.Path != "/v1/traces" {
		t.Errorf("want POST /v1/traces, got %s %s", r.Method, r.URL.Path)
	}
	if ct := r.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Errorf("want protobuf payload, got %q", ct)
	}
}
