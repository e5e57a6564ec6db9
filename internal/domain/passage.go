package domain

import (
	"math"
	"time"
)

// Passage is a knowledge-base chunk owned by the ingestion side. This service
// only reads passages, except for re-deriving NormalizedContent when the
// normalizer version changes.
type Passage struct {
	ID                   string
	Content              string
	NormalizedContent    string
	NormalizationVersion string
	Embedding            []float32
	SourceTitle          string
	SourceURL            string
	UpdatedAt            time.Time
}

// Signal identifies one of the three retrieval signals.
type Signal string

const (
	SignalSemantic Signal = "semantic"
	SignalLexical  Signal = "lexical"
	SignalTrigram  Signal = "trigram"
)

// AllSignals lists the signals in fusion order.
var AllSignals = []Signal{SignalSemantic, SignalLexical, SignalTrigram}

// PassageHit is a single-signal search hit.
type PassageHit struct {
	Passage Passage
	Score   float64
}

// RetrievalCandidate holds the per-signal scores of one passage. A signal that
// did not surface the passage contributes 0.
type RetrievalCandidate struct {
	PassageID     string
	SemanticScore float64
	LexicalScore  float64
	TrigramScore  float64
}

// FusedResult is a passage ranked by the weighted sum of its signal scores.
type FusedResult struct {
	Passage       Passage
	Score         float64
	SemanticScore float64
	LexicalScore  float64
	TrigramScore  float64
}

// Weights are the fusion coefficients for the three signals.
type Weights struct {
	Semantic float64 `json:"w_semantic" toml:"w_semantic"`
	Lexical  float64 `json:"w_lexical" toml:"w_lexical"`
	Trigram  float64 `json:"w_trigram" toml:"w_trigram"`
}

// DefaultWeights returns the standard 0.55/0.35/0.10 split.
func DefaultWeights() Weights {
	return Weights{Semantic: 0.55, Lexical: 0.35, Trigram: 0.10}
}

// Score computes the fused score of a candidate. No renormalization is applied.
func (w Weights) Score(c RetrievalCandidate) float64 {
	return w.Semantic*c.SemanticScore + w.Lexical*c.LexicalScore + w.Trigram*c.TrigramScore
}

// ValidateWeights rejects non-finite, negative, or all-zero weights. Sums other
// than 1 are accepted as-is.
func ValidateWeights(w Weights) error {
	sum := 0.0
	for _, v := range []float64{w.Semantic, w.Lexical, w.Trigram} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return ErrInvalidWeights
		}
		sum += v
	}
	if sum == 0 {
		return ErrInvalidWeights
	}
	return nil
}
