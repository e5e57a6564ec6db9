package profile

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/handoff"
	"github.com/cloo-solutions/supportdesk/internal/normalize"
)

//go:embed default.toml
var defaultProfile []byte

// Profile is the operator-editable pipeline configuration. It is decoded from
// TOML and compiled into a Snapshot before use.
type Profile struct {
	Name          string              `toml:"name"`
	Persona       string              `toml:"persona"`
	NoContextNote string              `toml:"no_context_note"`
	Citations     CitationSettings    `toml:"citations"`
	Retrieval     RetrievalSettings   `toml:"retrieval"`
	Rewrites      []normalize.Rewrite `toml:"rewrites"`
	Handoff       []handoff.Rule      `toml:"handoff"`
}

type CitationSettings struct {
	DefaultTitle  string `toml:"default_title"`
	NoLinkURL     string `toml:"no_link_url"`
	SnippetLength int    `toml:"snippet_length"`
}

type RetrievalSettings struct {
	TopK           int            `toml:"top_k"`
	MaxTopK        int            `toml:"max_top_k"`
	MaxHistory     int            `toml:"max_history"`
	MaxQueryLength int            `toml:"max_query_length"`
	Oversample     int            `toml:"oversample"`
	MinCandidates  int            `toml:"min_candidates"`
	MaxCandidates  int            `toml:"max_candidates"`
	TrigramFloor   float64        `toml:"trigram_floor"`
	Weights        domain.Weights `toml:"weights"`
}

// Snapshot is an immutable compiled profile. A request captures one snapshot
// and uses it for every stage so a reload mid-request has no effect on it.
type Snapshot struct {
	Profile    Profile
	Normalizer *normalize.Normalizer
	Classifier *handoff.Classifier
	// Version is a digest of the source document.
	Version string
}

// Default returns the embedded profile.
func Default() []byte {
	out := make([]byte, len(defaultProfile))
	copy(out, defaultProfile)
	return out
}

// MustDefault compiles the embedded profile.
func MustDefault() *Snapshot {
	s, err := Parse(defaultProfile)
	if err != nil {
		panic(fmt.Sprintf("embedded profile is invalid: %v", err))
	}
	return s
}

// Parse decodes and compiles a TOML profile. Settings the document leaves
// out keep their built-in defaults, including individual weights.
func Parse(data []byte) (*Snapshot, error) {
	p := baseProfile()
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "failed to decode profile", err)
	}
	applyDefaults(&p)
	if err := validate(&p); err != nil {
		return nil, err
	}

	n, err := normalize.New(p.Rewrites)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid rewrites", err)
	}
	c, err := handoff.New(p.Handoff)
	if err != nil {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "invalid handoff rules", err)
	}

	sum := sha256.Sum256(data)
	return &Snapshot{
		Profile:    p,
		Normalizer: n,
		Classifier: c,
		Version:    hex.EncodeToString(sum[:])[:12],
	}, nil
}

// baseProfile holds the values a document may omit. Rewrites and handoff
// rules have no base; a profile without them gets none.
func baseProfile() Profile {
	return Profile{
		Name:          "unnamed",
		NoContextNote: "(no passages matched this question)",
		Citations: CitationSettings{
			DefaultTitle:  "Knowledge base article",
			NoLinkURL:     "#",
			SnippetLength: 220,
		},
		Retrieval: RetrievalSettings{
			TopK:           10,
			MaxTopK:        25,
			MaxHistory:     4,
			MaxQueryLength: 2000,
			Oversample:     10,
			MinCandidates:  20,
			MaxCandidates:  250,
			TrigramFloor:   0.1,
			Weights:        domain.DefaultWeights(),
		},
	}
}

// applyDefaults repairs values that were set but cannot be used.
func applyDefaults(p *Profile) {
	base := baseProfile()
	if strings.TrimSpace(p.Name) == "" {
		p.Name = base.Name
	}
	if strings.TrimSpace(p.NoContextNote) == "" {
		p.NoContextNote = base.NoContextNote
	}
	if p.Citations.DefaultTitle == "" {
		p.Citations.DefaultTitle = base.Citations.DefaultTitle
	}
	if p.Citations.NoLinkURL == "" {
		p.Citations.NoLinkURL = base.Citations.NoLinkURL
	}
	if p.Citations.SnippetLength <= 0 {
		p.Citations.SnippetLength = base.Citations.SnippetLength
	}

	r, d := &p.Retrieval, base.Retrieval
	if r.TopK <= 0 {
		r.TopK = d.TopK
	}
	if r.MaxTopK <= 0 {
		r.MaxTopK = d.MaxTopK
	}
	if r.MaxHistory < 0 {
		r.MaxHistory = 0
	}
	if r.MaxQueryLength <= 0 {
		r.MaxQueryLength = d.MaxQueryLength
	}
	if r.Oversample <= 0 {
		r.Oversample = d.Oversample
	}
	if r.MinCandidates <= 0 {
		r.MinCandidates = d.MinCandidates
	}
	if r.MaxCandidates <= 0 {
		r.MaxCandidates = d.MaxCandidates
	}
}

func validate(p *Profile) error {
	if strings.TrimSpace(p.Persona) == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "profile persona is required")
	}
	r := p.Retrieval
	if r.TopK > r.MaxTopK {
		return domain.NewDomainError(domain.ErrCodeValidation, "retrieval.top_k exceeds retrieval.max_top_k")
	}
	if r.MinCandidates > r.MaxCandidates {
		return domain.NewDomainError(domain.ErrCodeValidation, "retrieval.min_candidates exceeds retrieval.max_candidates")
	}
	if r.TrigramFloor < 0 || r.TrigramFloor > 1 {
		return domain.NewDomainError(domain.ErrCodeValidation, "retrieval.trigram_floor must be within [0,1]")
	}
	if err := domain.ValidateWeights(r.Weights); err != nil {
		return err
	}
	return nil
}

// CandidateLimit is the per-signal oversampled candidate count for k.
func (r RetrievalSettings) CandidateLimit(k int) int {
	n := k * r.Oversample
	if n < r.MinCandidates {
		n = r.MinCandidates
	}
	if n > r.MaxCandidates {
		n = r.MaxCandidates
	}
	if n < k {
		n = k
	}
	return n
}

// ResolveTopK applies the default when k is absent and clamps it to [1, MaxTopK].
func (r RetrievalSettings) ResolveTopK(k *int) int {
	if k == nil {
		return r.TopK
	}
	switch {
	case *k < 1:
		return 1
	case *k > r.MaxTopK:
		return r.MaxTopK
	}
	return *k
}

// ResolveHistory applies the default when n is absent. Negative values mean no history.
func (r RetrievalSettings) ResolveHistory(n *int) int {
	if n == nil {
		return r.MaxHistory
	}
	if *n < 0 {
		return 0
	}
	return *n
}

// ResolveWeights overlays per-request weights on the profile defaults.
func (r RetrievalSettings) ResolveWeights(semantic, lexical, trigram *float64) domain.Weights {
	w := r.Weights
	if semantic != nil {
		w.Semantic = *semantic
	}
	if lexical != nil {
		w.Lexical = *lexical
	}
	if trigram != nil {
		w.Trigram = *trigram
	}
	return w
}
