package retrieval

import (
	"sort"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

// Fuse unions the per-signal hits, scores every candidate with the weighted
// sum of its signal scores (0 for signals that did not surface it), sorts by
// descending score with ascending id as tiebreak, and truncates to k.
func Fuse(semantic, lexical, trigram []domain.PassageHit, w domain.Weights, k int) []domain.FusedResult {
	if k <= 0 {
		return []domain.FusedResult{}
	}

	type entry struct {
		passage     domain.Passage
		candidate   domain.RetrievalCandidate
		hasSemantic bool
	}
	byID := make(map[string]*entry)
	get := func(p domain.Passage) *entry {
		e, ok := byID[p.ID]
		if !ok {
			e = &entry{passage: p, candidate: domain.RetrievalCandidate{PassageID: p.ID}}
			byID[p.ID] = e
		}
		return e
	}

	// A signal may list the same passage twice; the best score counts.
	for _, h := range semantic {
		e := get(h.Passage)
		// Cosine similarity can be negative, so the first hit always counts.
		if !e.hasSemantic || h.Score > e.candidate.SemanticScore {
			e.candidate.SemanticScore = h.Score
			e.hasSemantic = true
		}
	}
	for _, h := range lexical {
		e := get(h.Passage)
		if h.Score > e.candidate.LexicalScore {
			e.candidate.LexicalScore = h.Score
		}
	}
	for _, h := range trigram {
		e := get(h.Passage)
		if h.Score > e.candidate.TrigramScore {
			e.candidate.TrigramScore = h.Score
		}
	}

	results := make([]domain.FusedResult, 0, len(byID))
	for _, e := range byID {
		results = append(results, domain.FusedResult{
			Passage:       e.passage,
			Score:         w.Score(e.candidate),
			SemanticScore: e.candidate.SemanticScore,
			LexicalScore:  e.candidate.LexicalScore,
			TrigramScore:  e.candidate.TrigramScore,
		})
	}

	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// SortResults orders by descending score, then ascending passage id.
func SortResults(results []domain.FusedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Passage.ID < results[j].Passage.ID
	})
}
