package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"travelgate/internal/models"
)

// ErrUpstreamUnavailable indicates the reference-data service returned a
// non-success status or was unreachable. This is fatal to the request:
// the router maps it to a 502.
var ErrUpstreamUnavailable = errors.New("reference data service unavailable")

// CountryService fetches country basics from a RestCountries-compatible
// API. No retry here: reference data is assumed highly available.
type CountryService struct {
	baseURL string
	client  *http.Client
}

func NewCountryService(baseURL string, timeout time.Duration) *CountryService {
	return &CountryService{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// restCountry mirrors the subset of the RestCountries payload we read.
type restCountry struct {
	Name struct {
		Common   string `json:"common"`
		Official string `json:"official"`
	} `json:"name"`
	CCA2      string            `json:"cca2"`
	Capital   []string          `json:"capital"`
	Region    string            `json:"region"`
	Subregion string            `json:"subregion"`
	Languages map[string]string `json:"languages"`
	Currencies map[string]struct {
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"currencies"`
	IDD struct {
		Root     string   `json:"root"`
		Suffixes []string `json:"suffixes"`
	} `json:"idd"`
}

// Fetch resolves a country identity (ISO alpha-2 code or free-text name)
// into CountryBasics. Missing upstream fields become placeholders.
func (s *CountryService) Fetch(ctx context.Context, identity string) (models.CountryBasics, error) {
	endpoint := s.baseURL + "/name/" + url.PathEscape(identity)
	if isAlpha2(identity) {
		endpoint = s.baseURL + "/alpha/" + url.PathEscape(strings.ToUpper(identity))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.CountryBasics{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.CountryBasics{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.CountryBasics{}, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var countries []restCountry
	if err := json.NewDecoder(resp.Body).Decode(&countries); err != nil {
		return models.CountryBasics{}, fmt.Errorf("%w: malformed payload: %v", ErrUpstreamUnavailable, err)
	}
	if len(countries) == 0 {
		return models.CountryBasics{}, fmt.Errorf("%w: empty payload", ErrUpstreamUnavailable)
	}

	return mapBasics(identity, &countries[0]), nil
}

func mapBasics(identity string, c *restCountry) models.CountryBasics {
	b := models.CountryBasics{
		Code:         models.Placeholder,
		OfficialName: models.Placeholder,
		Capital:      models.Placeholder,
		Region:       models.Placeholder,
		Languages:    models.Placeholder,
		Currency:     models.Placeholder,
		CallingCode:  models.Placeholder,
	}

	switch {
	case c.CCA2 != "":
		b.Code = strings.ToUpper(c.CCA2)
	case isAlpha2(identity):
		b.Code = strings.ToUpper(identity)
	}
	if c.Name.Official != "" {
		b.OfficialName = c.Name.Official
	}
	if len(c.Capital) > 0 {
		b.Capital = c.Capital[0]
	}
	if c.Region != "" {
		b.Region = c.Region
	}
	b.Subregion = c.Subregion
	if len(c.Languages) > 0 {
		// Map order is random; sort keys so repeated requests render
		// languages identically (cache idempotence depends on it).
		keys := make([]string, 0, len(c.Languages))
		for k := range c.Languages {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		names := make([]string, 0, len(keys))
		for _, k := range keys {
			names = append(names, c.Languages[k])
		}
		b.Languages = strings.Join(names, ", ")
	}
	if len(c.Currencies) > 0 {
		codes := make([]string, 0, len(c.Currencies))
		for code := range c.Currencies {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		b.Currency = codes[0]
	}
	if c.IDD.Root != "" {
		b.CallingCode = c.IDD.Root
		if len(c.IDD.Suffixes) > 0 {
			b.CallingCode += c.IDD.Suffixes[0]
		}
	}

	return b
}

func isAlpha2(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
