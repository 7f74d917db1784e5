package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup wires metrics and an in-memory span exporter. It replaces the
// global tracer provider, so callers must not run in parallel.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	m, reader := newTestMetrics(t)

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// radioMux mimics the operator API routes.
func radioMux(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		_, span := StartRadioSpan(r.Context(), "start", "cam-north")
		span.End()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("PUT /api/target", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /api/stream", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"state":"idle"}`))
		conn.Close(websocket.StatusNormalClosure, "")
	})
	return mux
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	met := findMetric(collect(t, reader), "tacradio.http.request.duration")
	if met == nil {
		return nil
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("duration metric is %T, want histogram", met.Data)
	}
	return hist.DataPoints
}

func attrValue(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.AsString()
}

func TestMiddleware_RecordsRoutePattern(t *testing.T) {
	m, reader, exp := testSetup(t)
	h := Middleware(m)(radioMux(t))

	for _, path := range []string{"/api/state", "/api/state?verbose=1"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", path, rec.Code)
		}
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("data points = %d, want 1 series for one route", len(points))
	}
	dp := points[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	if got := attrValue(dp.Attributes, "route"); got != "GET /api/state" {
		t.Errorf("route = %q", got)
	}
	if got := attrValue(dp.Attributes, "status"); got != "2xx" {
		t.Errorf("status = %q", got)
	}

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "HTTP GET /api/state" {
		t.Errorf("span name = %q, want the route pattern", spans[0].Name)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	m, reader, _ := testSetup(t)
	h := Middleware(m)(radioMux(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope/123", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("data points = %d", len(points))
	}
	if got := attrValue(points[0].Attributes, "route"); got != "unmatched" {
		t.Errorf("route = %q, want unmatched", got)
	}
	if got := attrValue(points[0].Attributes, "status"); got != "4xx" {
		t.Errorf("status = %q, want 4xx", got)
	}
}

func TestMiddleware_ServerErrorOnSpan(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(radioMux(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/target", strings.NewReader(`{}`)))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}

	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	found := false
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" && a.Value.AsInt64() == 500 {
			found = true
		}
	}
	if !found {
		t.Error("span missing http.response.status_code=500")
	}
}

func TestMiddleware_RadioSpanJoinsRequestTrace(t *testing.T) {
	m, _, exp := testSetup(t)
	h := Middleware(m)(radioMux(t))

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest(http.MethodPost, "/api/start", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}

	var radioSpan, httpSpan *tracetest.SpanStub
	spans := exp.GetSpans()
	for i := range spans {
		switch spans[i].Name {
		case "radio.start":
			radioSpan = &spans[i]
		case "HTTP POST /api/start":
			httpSpan = &spans[i]
		}
	}
	if radioSpan == nil || httpSpan == nil {
		t.Fatalf("spans = %v", spans.Snapshots())
	}
	if radioSpan.SpanContext.TraceID().String() != traceID {
		t.Errorf("radio span trace = %s", radioSpan.SpanContext.TraceID())
	}
	if radioSpan.Parent.SpanID() != httpSpan.SpanContext.SpanID() {
		t.Error("radio.start is not a child of the request span")
	}
}

func TestMiddleware_StreamUpgradeIsNotTimed(t *testing.T) {
	m, reader, _ := testSetup(t)
	srv := httptest.NewServer(Middleware(m)(radioMux(t)))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/stream", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != `{"state":"idle"}` {
		t.Errorf("message = %q", data)
	}
	_, _, _ = conn.Read(ctx)
	srv.Close()

	if points := durationPoints(t, reader); len(points) != 0 {
		t.Errorf("recorded %d latency series for an upgraded stream", len(points))
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	for code, want := range map[int]string{200: "2xx", 202: "2xx", 404: "4xx", 502: "5xx"} {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
