package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"travelgate/internal/models"
)

// The generation service is not guaranteed to return bare JSON: it may
// wrap the payload in a fenced code block, prepend prose, or both. Each
// strategy tries one way of locating the payload; the first one that
// yields a schema-valid AdvisoryContent wins.

type extractionStrategy func(string) *models.AdvisoryContent

var extractionStrategies = []extractionStrategy{
	parseWhole,
	parseFenced,
	parseBraceSlice,
}

var fencedBlock = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// ExtractAdvisory pulls a structured advisory out of free-form model
// output. Returns nil when no candidate parses into a record satisfying
// the full field-presence invariant; callers must treat nil identically
// to an upstream failure.
func ExtractAdvisory(raw string) *models.AdvisoryContent {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, strategy := range extractionStrategies {
		if content := strategy(raw); content != nil {
			return content
		}
	}
	return nil
}

func parseWhole(text string) *models.AdvisoryContent {
	return parseAndValidate(text)
}

func parseFenced(text string) *models.AdvisoryContent {
	m := fencedBlock.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return parseAndValidate(m[1])
}

func parseBraceSlice(text string) *models.AdvisoryContent {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil
	}
	return parseAndValidate(text[start : end+1])
}

func parseAndValidate(candidate string) *models.AdvisoryContent {
	var content models.AdvisoryContent
	if err := json.Unmarshal([]byte(candidate), &content); err != nil {
		return nil
	}
	if !validAdvisory(&content) {
		return nil
	}
	return &content
}

// validAdvisory enforces the field-presence invariant: all five category
// keys present as string lists and a non-empty disclaimer. A missing key
// unmarshals to a nil slice; an empty-but-present list is acceptable.
func validAdvisory(c *models.AdvisoryContent) bool {
	if strings.TrimSpace(c.Disclaimer) == "" {
		return false
	}
	for _, list := range [][]string{c.Visa, c.Laws, c.Safety, c.Emergency, c.Health} {
		if list == nil {
			return false
		}
	}
	return true
}

// generationResponse mirrors the handful of places different
// OpenAI-compatible backends put the generated text.
type generationResponse struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type textStrategy func(*generationResponse) string

// Ordered shape strategies for locating the output text; first non-empty
// match wins.
var textStrategies = []textStrategy{
	func(r *generationResponse) string { return r.OutputText },
	func(r *generationResponse) string {
		if len(r.Output) > 0 && len(r.Output[0].Content) > 0 {
			return r.Output[0].Content[0].Text
		}
		return ""
	},
	func(r *generationResponse) string {
		if len(r.Choices) > 0 {
			return r.Choices[0].Message.Content
		}
		return ""
	},
}

func outputText(r *generationResponse) string {
	for _, strategy := range textStrategies {
		if text := strings.TrimSpace(strategy(r)); text != "" {
			return text
		}
	}
	return ""
}
