package service

import (
	"context"
	"strings"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/profile"
)

// ProfileReloader swaps in a fresh profile from its source.
type ProfileReloader interface {
	ProfileProvider
	Reload(ctx context.Context) (bool, error)
}

// ProfileInfo describes the active profile.
type ProfileInfo struct {
	Name              string         `json:"name"`
	Version           string         `json:"version"`
	NormalizerVersion string         `json:"normalizer_version"`
	Weights           domain.Weights `json:"weights"`
	TopK              int            `json:"top_k"`
	MaxHistory        int            `json:"max_history"`
	Rewrites          int            `json:"rewrites"`
	HandoffRules      int            `json:"handoff_rules"`
}

// NormalizePreview is the result of normalizing arbitrary text.
type NormalizePreview struct {
	Input      string `json:"input"`
	Normalized string `json:"normalized"`
	Version    string `json:"normalizer_version"`
}

// AdminService exposes operator views onto the active profile.
type AdminService struct {
	profiles ProfileReloader
}

func NewAdminService(profiles ProfileReloader) *AdminService {
	return &AdminService{profiles: profiles}
}

func (s *AdminService) Profile() ProfileInfo {
	return describe(s.profiles.Current())
}

// Reload returns the resulting profile and whether it changed.
func (s *AdminService) Reload(ctx context.Context) (ProfileInfo, bool, error) {
	changed, err := s.profiles.Reload(ctx)
	if err != nil {
		return ProfileInfo{}, false, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "profile reload failed", err)
	}
	return describe(s.profiles.Current()), changed, nil
}

func (s *AdminService) Normalize(text string) (NormalizePreview, error) {
	if strings.TrimSpace(text) == "" {
		return NormalizePreview{}, domain.ErrMissingText
	}
	n := s.profiles.Current().Normalizer
	return NormalizePreview{
		Input:      text,
		Normalized: n.Normalize(text),
		Version:    n.Version(),
	}, nil
}

func describe(snap *profile.Snapshot) ProfileInfo {
	p := snap.Profile
	return ProfileInfo{
		Name:              p.Name,
		Version:           snap.Version,
		NormalizerVersion: snap.Normalizer.Version(),
		Weights:           p.Retrieval.Weights,
		TopK:              p.Retrieval.TopK,
		MaxHistory:        p.Retrieval.MaxHistory,
		Rewrites:          len(p.Rewrites),
		HandoffRules:      len(p.Handoff),
	}
}
