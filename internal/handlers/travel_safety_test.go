package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"travelgate/internal/config"
	"travelgate/internal/models"
	"travelgate/internal/services"
)

const frFixture = `[{
	"name": {"official": "French Republic", "common": "France"},
	"capital": ["Paris"],
	"region": "Europe",
	"currencies": {"EUR": {}},
	"idd": {"root": "+3", "suffixes": ["3"]}
}]`

const advisoryFixture = `{
	"visa": ["Schengen rules apply for most visitors."],
	"laws": ["Carry identification at all times."],
	"safety": ["Watch for pickpockets around major sights."],
	"emergency": ["Dial 112 for all emergencies."],
	"health": ["Tap water is safe to drink."],
	"disclaimer": "Verify details with official sources before you travel."
}`

type upstreamCounters struct {
	country  int32
	advisory int32
}

func chatBody(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"content": content}},
		},
	})
	return string(b)
}

// newGatewayApp wires a Fiber app the way cmd/server does, with httptest
// doubles standing in for both upstreams.
func newGatewayApp(t *testing.T, countryHandler, advisoryHandler http.HandlerFunc) (*fiber.App, *upstreamCounters, func()) {
	t.Helper()

	counters := &upstreamCounters{}

	countryUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&counters.country, 1)
		countryHandler(w, r)
	}))
	advisoryUpstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&counters.advisory, 1)
		advisoryHandler(w, r)
	}))

	cfg := &config.Config{
		OpenAIAPIKey:  "test-key",
		OpenAIBaseURL: advisoryUpstream.URL,
		Model:         "gpt-4o-mini",
		Temperature:   0.2,

		CountryAPIURL:  countryUpstream.URL,
		CountryTimeout: 2 * time.Second,

		CacheTTLAI:           time.Hour,
		CacheTTLFallback:     5 * time.Minute,
		StaleWhileRevalidate: 10 * time.Minute,

		AdvisoryMaxAttempts:      3,
		AdvisoryBackoffBase:      time.Millisecond,
		AdvisoryBackoffIncrement: time.Millisecond,
		AdvisoryBackoffJitter:    0,
		AdvisoryTimeout:          2 * time.Second,
		AdvisoryRate:             1000,
		AdvisoryBurst:            1000,

		RequestTimeout: 5 * time.Second,
	}

	store := services.NewMemoryStore(cfg.CacheTTLAI)
	countries := services.NewCountryService(cfg.CountryAPIURL, cfg.CountryTimeout)
	advisor := services.NewAdvisoryService(cfg)
	handler := NewTravelSafetyHandler(cfg, store, countries, advisor)

	app := fiber.New()
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,OPTIONS",
		AllowHeaders: "Content-Type",
		MaxAge:       86400,
	}))
	api := app.Group("/api")
	api.Add(fiber.MethodGet, "/travel-safety", handler.Handle)
	api.All("/travel-safety", MethodNotAllowed)

	cleanup := func() {
		countryUpstream.Close()
		advisoryUpstream.Close()
	}
	return app, counters, cleanup
}

func healthyCountry(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(frFixture))
}

func healthyAdvisory(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(chatBody("```json\n" + advisoryFixture + "\n```")))
}

func decodeGateway(t *testing.T, resp *http.Response) models.GatewayResponse {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	var out models.GatewayResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("failed to decode envelope: %v\nbody: %s", err, body)
	}
	return out
}

func TestMissingIdentifierRejectedWithoutIO(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety", nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	var envelope models.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || envelope.Error == "" {
		t.Errorf("expected error envelope, got err=%v body=%+v", err, envelope)
	}
	if counters.country != 0 || counters.advisory != 0 {
		t.Errorf("no upstream call should be made, got country=%d advisory=%d", counters.country, counters.advisory)
	}
}

func TestOversizedIdentifierRejectedWithoutIO(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	long := strings.Repeat("a", 51)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?country="+long, nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if counters.country != 0 || counters.advisory != 0 {
		t.Errorf("oversized identifier must be rejected before any I/O")
	}
}

func TestComposedAdvisoryResponse(t *testing.T) {
	app, _, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "s-maxage=3600") {
		t.Errorf("Cache-Control = %q, want long-class s-maxage", cc)
	}

	out := decodeGateway(t, resp)
	if out.Source != models.SourceAI {
		t.Errorf("source = %q, want ai", out.Source)
	}
	if out.Country != "French Republic" || out.Code != "FR" {
		t.Errorf("identity = %q/%q", out.Country, out.Code)
	}
	if out.Basics.CallingCode != "+33" {
		t.Errorf("callingCode = %q, want +33", out.Basics.CallingCode)
	}
	if out.Advice == nil || out.Advice.Disclaimer == "" {
		t.Error("advice.disclaimer should be populated")
	}
	if out.AINote != "" || out.OpenAIStatus != 0 {
		t.Errorf("healthy response should not carry degradation metadata: %+v", out)
	}
}

func TestSecondRequestServedFromCache(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	first, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	firstOut := decodeGateway(t, first)

	second, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if got := second.Header.Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	secondOut := decodeGateway(t, second)

	if secondOut.Source != models.SourceAICache {
		t.Errorf("source = %q, want ai_cache", secondOut.Source)
	}
	if !reflect.DeepEqual(firstOut.Basics, secondOut.Basics) {
		t.Error("basics changed between cached requests")
	}
	if !reflect.DeepEqual(firstOut.Advice, secondOut.Advice) {
		t.Error("advice changed between cached requests")
	}
	if counters.country != 1 || counters.advisory != 1 {
		t.Errorf("cached request must not call upstreams again: country=%d advisory=%d", counters.country, counters.advisory)
	}
}

func TestCacheKeyIsCaseInsensitive(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	if _, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	resp, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=fr", nil), 5000)
	if err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if got := resp.Header.Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT for case-folded identity", got)
	}
	if counters.country != 1 {
		t.Errorf("country upstream calls = %d, want 1", counters.country)
	}
}

func TestReferenceDataFailureIsFatal(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		healthyAdvisory,
	)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", resp.StatusCode)
	}
	if counters.advisory != 0 {
		t.Error("advisory upstream must not be called when basics fail")
	}

	// Failures are not cached: the next request hits the upstream again.
	if _, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if counters.country != 2 {
		t.Errorf("country upstream calls = %d, want 2 (no cache write on 502)", counters.country)
	}
}

func TestGenerationOutageDegradesToFallback(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
	)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (degraded is still success)", resp.StatusCode)
	}
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "s-maxage=300") {
		t.Errorf("Cache-Control = %q, want short-class s-maxage", cc)
	}

	out := decodeGateway(t, resp)
	if out.Source != models.SourceFallback {
		t.Errorf("source = %q, want fallback", out.Source)
	}
	if out.Advice != nil {
		t.Error("advice must be null on fallback")
	}
	if out.OpenAIStatus != http.StatusInternalServerError {
		t.Errorf("openai_status = %d, want 500", out.OpenAIStatus)
	}
	if out.AINote == "" {
		t.Error("ai_note should describe the degradation")
	}
	if out.Basics.Capital != "Paris" {
		t.Errorf("basics should still be populated, capital = %q", out.Basics.Capital)
	}
	if counters.advisory != 3 {
		t.Errorf("advisory attempts = %d, want configured max of 3", counters.advisory)
	}

	// Fallback responses are cached too (short TTL).
	if _, err := app.Test(httptest.NewRequest("GET", "/api/travel-safety?code=FR", nil), 5000); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if counters.advisory != 3 {
		t.Errorf("cached fallback must not re-call the generation service")
	}
}

func TestDisallowedMethod(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("POST", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != "GET, OPTIONS" {
		t.Errorf("Allow = %q, want GET, OPTIONS", got)
	}
	if counters.country != 0 || counters.advisory != 0 {
		t.Error("405 must not reach cache or upstreams")
	}
}

func TestHeadMethodNotAllowed(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	resp, err := app.Test(httptest.NewRequest("HEAD", "/api/travel-safety?code=FR", nil), 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405 (HEAD is not on the allow-list)", resp.StatusCode)
	}
	if got := resp.Header.Get("Allow"); got != "GET, OPTIONS" {
		t.Errorf("Allow = %q, want GET, OPTIONS", got)
	}
	if counters.country != 0 || counters.advisory != 0 {
		t.Error("HEAD must not reach cache or upstreams")
	}
}

func TestPreflightBypassesGateway(t *testing.T) {
	app, counters, cleanup := newGatewayApp(t, healthyCountry, healthyAdvisory)
	defer cleanup()

	req := httptest.NewRequest("OPTIONS", "/api/travel-safety", nil)
	req.Header.Set("Origin", "https://example.github.io")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("preflight should carry CORS headers")
	}
	if counters.country != 0 || counters.advisory != 0 {
		t.Error("preflight must not touch cache or upstreams")
	}
}
