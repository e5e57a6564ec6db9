package service

import (
	"strings"

	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/profile"
)

const snippetEllipsis = "..."

// MapCitations turns the passages placed in the context block into citations
// by position. It does not inspect the answer text.
func MapCitations(results []domain.FusedResult, cfg profile.CitationSettings) []domain.Citation {
	citations := make([]domain.Citation, len(results))
	for i, r := range results {
		title := strings.TrimSpace(r.Passage.SourceTitle)
		if title == "" {
			title = cfg.DefaultTitle
		}
		url := strings.TrimSpace(r.Passage.SourceURL)
		if url == "" {
			url = cfg.NoLinkURL
		}
		citations[i] = domain.Citation{
			Index:     i + 1,
			Title:     title,
			URL:       url,
			Snippet:   makeSnippet(r.Passage.Content, cfg.SnippetLength),
			Score:     r.Score,
			UpdatedAt: r.Passage.UpdatedAt,
		}
	}
	return citations
}

// makeSnippet collapses whitespace and cuts to maxRunes runes, ellipsis
// included, without splitting a multi-byte character.
func makeSnippet(content string, maxRunes int) string {
	if content == "" {
		return ""
	}
	clean := strings.Join(strings.Fields(content), " ")
	runes := []rune(clean)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return clean
	}
	cut := maxRunes - len(snippetEllipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRight(string(runes[:cut]), " ") + snippetEllipsis
}
