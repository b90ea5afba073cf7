package models

import "time"

// Provenance values for GatewayResponse.Source.
const (
	SourceAI       = "ai"       // fresh, parseable generation-service output
	SourceFallback = "fallback" // generation failed or output was unusable
	SourceAICache  = "ai_cache" // an ai-sourced response served from cache
)

// AdvisoryContent is the fixed record of categorical travel-guidance
// bullets. Every key is always serialized so consumers can rely on
// presence; lists hold short single-sentence strings.
type AdvisoryContent struct {
	Visa       []string `json:"visa"`
	Laws       []string `json:"laws"`
	Safety     []string `json:"safety"`
	Emergency  []string `json:"emergency"`
	Health     []string `json:"health"`
	Disclaimer string   `json:"disclaimer"`
}

// AdvisoryResult is what the advisory client hands back to the router.
// It is always well-formed: a failed or unparseable generation call
// yields nil Content with fallback provenance, never an error.
type AdvisoryResult struct {
	Content *AdvisoryContent
	Source  string
	Model   string
	Status  int    // last observed upstream status, 0 on network error
	Note    string // human-readable cause when degraded
}

// GatewayResponse is the wire-level envelope returned to clients.
// At composition time Advice is nil exactly when Source is "fallback";
// cache hits re-tag a stored "ai" response to "ai_cache" with its
// advice intact.
type GatewayResponse struct {
	Country      string           `json:"country"`
	Code         string           `json:"code"`
	UpdatedAt    time.Time        `json:"updated_at"`
	Basics       CountryBasics    `json:"basics"`
	Advice       *AdvisoryContent `json:"advice"`
	Source       string           `json:"source"`
	Model        string           `json:"model"`
	OpenAIStatus int              `json:"openai_status,omitempty"`
	AINote       string           `json:"ai_note,omitempty"`
}

// ErrorResponse is the body for all non-200 results.
type ErrorResponse struct {
	Error string                 `json:"error"`
	Meta  map[string]interface{} `json:"meta,omitempty"`
}
