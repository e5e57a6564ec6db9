package service

import (
	"fmt"
	"strings"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

// AssembleContext renders the fused results in fusion order as numbered
// blocks. Marker i in the output is the citation index of results[i-1]; the
// order must not change after this point.
func AssembleContext(results []domain.FusedResult) string {
	if len(results) == 0 {
		return ""
	}

	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[#%d | score=%.3f]\n%s", i+1, r.Score, r.Passage.Content)
	}
	return strings.Join(blocks, "\n\n")
}
