package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"travelgate/internal/config"
	"travelgate/internal/logging"
	"travelgate/internal/metrics"
	"travelgate/internal/models"
	"travelgate/internal/services"
)

// Oversized identifiers are rejected before any I/O; nothing legitimate
// is longer than the longest country name.
const maxIdentifierLength = 50

// TravelSafetyHandler is the gateway's composition root: cache lookup,
// reference-data fetch, advisory generation, envelope assembly.
type TravelSafetyHandler struct {
	cfg       *config.Config
	store     services.Store
	countries *services.CountryService
	advisor   *services.AdvisoryService
}

func NewTravelSafetyHandler(cfg *config.Config, store services.Store, countries *services.CountryService, advisor *services.AdvisoryService) *TravelSafetyHandler {
	return &TravelSafetyHandler{
		cfg:       cfg,
		store:     store,
		countries: countries,
		advisor:   advisor,
	}
}

// Handle serves GET /api/travel-safety?country=<name>|code=<alpha-2>.
// Degraded advisory service still yields a 200; only malformed requests
// and reference-data failure produce error statuses.
func (h *TravelSafetyHandler) Handle(c *fiber.Ctx) error {
	identity := strings.TrimSpace(c.Query("code"))
	if identity == "" {
		identity = strings.TrimSpace(c.Query("country"))
	}
	if identity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Missing ?country=<name> or ?code=<ISO alpha-2>",
		})
	}
	if len(identity) > maxIdentifierLength {
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			Error: "Country identifier too long",
			Meta:  map[string]interface{}{"max_length": maxIdentifierLength},
		})
	}

	log := logging.WithRequest(requestID(c), c.Path())
	key := cacheKey(identity)

	if payload, ok := h.store.Get(c.UserContext(), key); ok {
		var cached models.GatewayResponse
		err := json.Unmarshal(payload, &cached)
		if err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			if cached.Source == models.SourceAI {
				cached.Source = models.SourceAICache
			}
			h.setCacheHeaders(c, cached.Source)
			c.Set("X-Cache", "HIT")
			log.Debug("served from cache", "country", key, "source", cached.Source)
			return c.JSON(cached)
		}
		// Corrupt entry: fall through and overwrite with a fresh fetch.
		log.Warn("discarding undecodable cache entry", "country", key, "error", err)
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()
	c.Set("X-Cache", "MISS")

	ctx, cancel := context.WithTimeout(c.UserContext(), h.cfg.RequestTimeout)
	defer cancel()

	basics, err := h.countries.Fetch(ctx, identity)
	if err != nil {
		log.Error("reference data fetch failed", "country", identity, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(models.ErrorResponse{
			Error: "Failed to fetch country basics",
			Meta:  map[string]interface{}{"reason": err.Error()},
		})
	}

	result := h.advisor.Request(ctx, basics)

	resp := models.GatewayResponse{
		Country:   countryLabel(basics, identity),
		Code:      basics.Code,
		UpdatedAt: time.Now().UTC(),
		Basics:    basics,
		Advice:    result.Content,
		Source:    result.Source,
		Model:     result.Model,
	}
	if result.Source != models.SourceAI {
		resp.OpenAIStatus = result.Status
		resp.AINote = result.Note
		log.Info("composed degraded response", "country", key, "status", result.Status)
	} else {
		log.Info("composed advisory response", "country", key, "model", result.Model)
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		log.Error("envelope marshal failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error: "Internal server error",
			Meta:  map[string]interface{}{"detail": err.Error()},
		})
	}

	h.store.Set(c.UserContext(), key, payload, h.ttlFor(resp.Source))
	h.setCacheHeaders(c, resp.Source)
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	return c.Status(fiber.StatusOK).Send(payload)
}

// MethodNotAllowed answers any non-GET, non-OPTIONS method on the
// advisory path. OPTIONS never reaches here; the CORS middleware
// answers preflights without touching cache or upstreams.
func MethodNotAllowed(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAllow, "GET, OPTIONS")
	return c.Status(fiber.StatusMethodNotAllowed).JSON(models.ErrorResponse{
		Error: "Method not allowed",
	})
}

// cacheKey normalizes the request identity: case-folded, no locale or
// time component, so repeats within TTL are idempotent.
func cacheKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

func countryLabel(basics models.CountryBasics, identity string) string {
	if basics.OfficialName != "" && basics.OfficialName != models.Placeholder {
		return basics.OfficialName
	}
	return identity
}

func (h *TravelSafetyHandler) ttlFor(source string) time.Duration {
	if source == models.SourceAI {
		return h.cfg.CacheTTLAI
	}
	return h.cfg.CacheTTLFallback
}

func (h *TravelSafetyHandler) setCacheHeaders(c *fiber.Ctx, source string) {
	ttl := h.ttlFor(source)
	if source == models.SourceAICache {
		ttl = h.cfg.CacheTTLAI
	}
	c.Set(fiber.HeaderCacheControl, fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d",
		int(ttl.Seconds()), int(h.cfg.StaleWhileRevalidate.Seconds())))
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("request_id").(string); ok {
		return id
	}
	return ""
}
