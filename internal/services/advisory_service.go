package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"travelgate/internal/config"
	"travelgate/internal/metrics"
	"travelgate/internal/models"
)

const systemPrompt = `You are a careful travel assistant. Return only structured JSON matching the given shape; no prose. Keep tone clear and non-alarmist; prefer neutral wording like "Check official source" when unsure.`

const userPromptTemplate = `Return STRICT JSON for travel to %q with this exact shape:
{
  "visa": ["bullet", ...],
  "laws": ["bullet", ...],
  "safety": ["bullet", ...],
  "emergency": ["police/ambulance/fire numbers or how to reach them", ...],
  "health": ["vaccines, hospitals, water safety", ...],
  "disclaimer": "one sentence reminding to verify with official sources"
}
Each list item must be one short, practical sentence. If you are not
confident in a specific number, write "See official number". Output ONLY JSON.`

// Limit on how much upstream body we will read per attempt.
const maxResponseBytes = 1 << 20

// AdvisoryService calls the text-generation service with a fixed prompt
// contract, retrying transient failures with linear jittered backoff and
// normalizing the output. It never returns an error: the router always
// receives a well-formed AdvisoryResult.
type AdvisoryService struct {
	mu          sync.RWMutex
	baseURL     string
	apiKey      string
	model       string
	temperature float64

	client      *http.Client
	limiter     *rate.Limiter
	maxAttempts int

	backoffBase      time.Duration
	backoffIncrement time.Duration
	backoffJitter    time.Duration
}

func NewAdvisoryService(cfg *config.Config) *AdvisoryService {
	attempts := cfg.AdvisoryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &AdvisoryService{
		baseURL:     cfg.OpenAIBaseURL,
		apiKey:      cfg.OpenAIAPIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,

		client:      &http.Client{Timeout: cfg.AdvisoryTimeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.AdvisoryRate), cfg.AdvisoryBurst),
		maxAttempts: attempts,

		backoffBase:      cfg.AdvisoryBackoffBase,
		backoffIncrement: cfg.AdvisoryBackoffIncrement,
		backoffJitter:    cfg.AdvisoryBackoffJitter,
	}
}

// ApplyProvider swaps generation-service settings at runtime (provider
// file hot-reload). Empty fields keep the current value.
func (s *AdvisoryService) ApplyProvider(p *config.Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.BaseURL != "" {
		s.baseURL = p.BaseURL
	}
	if p.APIKey != "" {
		s.apiKey = p.APIKey
	}
	if p.Model != "" {
		s.model = p.Model
	}
	if p.Temperature > 0 {
		s.temperature = p.Temperature
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request generates advisory content for the given country basics.
// Retries only on 429, 5xx, and network errors; any other non-success
// status surfaces immediately as a fallback carrying that status.
func (s *AdvisoryService) Request(ctx context.Context, basics models.CountryBasics) models.AdvisoryResult {
	s.mu.RLock()
	baseURL, apiKey, model, temperature := s.baseURL, s.apiKey, s.model, s.temperature
	s.mu.RUnlock()

	label := basics.OfficialName
	if label == "" || label == models.Placeholder {
		label = basics.Code
	}

	var (
		content     *models.AdvisoryContent
		lastStatus  int
		unparseable bool
	)

	policy := newLinearBackOff(s.backoffBase, s.backoffIncrement, s.backoffJitter)

	operation := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		status, raw, retryAfter, err := s.call(ctx, baseURL, apiKey, model, temperature, label)
		if err != nil {
			// Network-level failures retry like 5xx.
			lastStatus = 0
			metrics.AdvisoryAttempts.WithLabelValues("network_error").Inc()
			return err
		}

		lastStatus = status
		switch {
		case status == http.StatusOK:
			metrics.AdvisoryAttempts.WithLabelValues("ok").Inc()
			content = ExtractAdvisory(raw)
			// Malformed output is not retried: the content is already
			// received, and re-asking rarely helps.
			unparseable = content == nil
			return nil
		case status == http.StatusTooManyRequests || status >= 500:
			metrics.AdvisoryAttempts.WithLabelValues("transient").Inc()
			policy.setHint(retryAfter)
			return fmt.Errorf("generation service status %d", status)
		default:
			metrics.AdvisoryAttempts.WithLabelValues("rejected").Inc()
			return backoff.Permanent(fmt.Errorf("generation service status %d", status))
		}
	}

	retryPolicy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxAttempts-1)), ctx)
	if err := backoff.Retry(operation, retryPolicy); err != nil {
		slog.Debug("advisory attempts exhausted", "country", label, "status", lastStatus, "error", err)
	}

	result := models.AdvisoryResult{Model: model, Status: lastStatus}
	if content != nil {
		result.Content = content
		result.Source = models.SourceAI
		return result
	}

	result.Source = models.SourceFallback
	result.Note = fallbackNote(lastStatus, unparseable)
	metrics.Fallbacks.WithLabelValues(fallbackCause(lastStatus, unparseable)).Inc()
	return result
}

// call issues one generation attempt. A non-nil error means a transport
// failure; otherwise the upstream status is returned along with the raw
// output text (empty unless 200) and any Retry-After hint.
func (s *AdvisoryService) call(ctx context.Context, baseURL, apiKey, model string, temperature float64, label string) (int, string, time.Duration, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Temperature: temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf(userPromptTemplate, label)},
		},
	})
	if err != nil {
		return 0, "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return 0, "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", 0, err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, "", parseRetryAfter(resp.Header.Get("Retry-After")), nil
	}

	var gen generationResponse
	if err := json.Unmarshal(payload, &gen); err != nil {
		// A 200 with an undecodable body degrades like unparseable output.
		return resp.StatusCode, "", 0, nil
	}
	return resp.StatusCode, outputText(&gen), 0, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func fallbackNote(status int, unparseable bool) string {
	switch {
	case unparseable:
		return "We couldn't parse AI advice right now. Showing standard guidance."
	case status == http.StatusTooManyRequests:
		return "AI is temporarily busy (rate limited). Please try again shortly."
	default:
		return "AI service is temporarily unavailable. Please try again soon."
	}
}

func fallbackCause(status int, unparseable bool) string {
	switch {
	case unparseable:
		return "unparseable"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "server_error"
	}
}
