package intent

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/apperrors"
	"github.com/denkuservices/denku-mvp-sub000/internal/model"
	"github.com/denkuservices/denku-mvp-sub000/internal/storage"
	"github.com/denkuservices/denku-mvp-sub000/pkg/logger"
)

// DefaultFallbackPersona is returned when no better candidate validates.
const DefaultFallbackPersona = "support_en"

// PersonaCatalog reports whether a persona key may be used.
type PersonaCatalog interface {
	IsActive(ctx context.Context, key string) (bool, error)
}

// DirectoryCatalog is a PersonaCatalog backed by the directory tables.
type DirectoryCatalog struct {
	repo storage.DirectoryRepo
}

func NewDirectoryCatalog(repo storage.DirectoryRepo) *DirectoryCatalog {
	return &DirectoryCatalog{repo: repo}
}

// IsActive returns false without error for unknown keys.
func (c *DirectoryCatalog) IsActive(ctx context.Context, key string) (bool, error) {
	p, err := c.repo.FindPersona(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.Active, nil
}

// Selector picks personas with a configurable last resort.
type Selector struct {
	catalog  PersonaCatalog
	fallback string
}

func NewSelector(catalog PersonaCatalog, fallback string) *Selector {
	if fallback == "" {
		fallback = DefaultFallbackPersona
	}
	return &Selector{catalog: catalog, fallback: fallback}
}

// SelectPersona picks a persona with the default fallback.
func SelectPersona(ctx context.Context, catalog PersonaCatalog, agent model.Agent, in model.Intent, lang string) string {
	return NewSelector(catalog, DefaultFallbackPersona).Select(ctx, agent, in, lang)
}

// Select tries <domain>_<lang>, then the agent default, then the fallback.
// Each candidate but the last must be active in the catalog; a lookup error
// moves on to the next one. It always returns a key.
func (s *Selector) Select(ctx context.Context, agent model.Agent, in model.Intent, lang string) string {
	log := logger.FromContext(ctx)
	candidates := personaCandidates(agent, in, lang)
	for _, key := range candidates {
		active, err := s.catalog.IsActive(ctx, key)
		if err != nil {
			log.Warn("Persona lookup failed, trying next candidate", zap.String("persona_key", key), zap.Error(err))
			continue
		}
		if active {
			return key
		}
		log.Debug("Persona inactive", zap.String("persona_key", key))
	}
	return s.fallback
}

func personaCandidates(agent model.Agent, in model.Intent, lang string) []string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		lang = strings.ToLower(agent.Language)
	}
	if lang == "" {
		lang = "en"
	}

	var domain string
	switch in {
	case model.IntentAppointment:
		domain = "booking"
	case model.IntentSupport:
		domain = "support"
	default:
		domain = strings.ToLower(strings.TrimSpace(agent.Domain))
	}

	out := make([]string, 0, 2)
	if domain != "" {
		out = append(out, domain+"_"+lang)
	}
	if agent.DefaultPersonaKey != "" && (len(out) == 0 || out[0] != agent.DefaultPersonaKey) {
		out = append(out, agent.DefaultPersonaKey)
	}
	return out
}
