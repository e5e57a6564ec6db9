package domain

import "time"

// Citation binds a [#n] marker in the answer to the passage placed at
// context slot n. Index values are always 1..K in context order.
type Citation struct {
	Index     int
	Title     string
	URL       string
	Snippet   string
	Score     float64
	UpdatedAt time.Time
}

// AnswerResult is the user-visible outcome of one pipeline run
type AnswerResult struct {
	Answer         string
	Citations      []Citation
	NeedsHumanHelp bool
	SessionID      string
}
