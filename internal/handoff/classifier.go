package handoff

import (
	"fmt"
	"regexp"
)

// Target selects which text a rule is matched against.
type Target string

const (
	TargetQuery  Target = "query"
	TargetAnswer Target = "answer"
)

// Verdict is the label a matching rule assigns.
type Verdict string

const (
	VerdictSocial    Verdict = "social"
	VerdictTechnical Verdict = "technical"
	VerdictNonAnswer Verdict = "non_answer"
	VerdictAnswered  Verdict = "answered"
)

// Rule maps a case-insensitive pattern to a verdict. Rules are evaluated in
// order per target and the first match wins.
type Rule struct {
	Target  Target  `toml:"target" json:"target"`
	Pattern string  `toml:"pattern" json:"pattern"`
	Verdict Verdict `toml:"verdict" json:"verdict"`
}

type compiledRule struct {
	re      *regexp.Regexp
	verdict Verdict
}

// Classifier decides whether an answer should be escalated to a human.
type Classifier struct {
	query  []compiledRule
	answer []compiledRule
}

// Decision carries the intermediate verdicts alongside the outcome.
type Decision struct {
	QueryVerdict   Verdict
	AnswerVerdict  Verdict
	CandidateCount int
	NeedsHuman     bool
}

// New compiles an ordered rule set.
func New(rules []Rule) (*Classifier, error) {
	c := &Classifier{}
	for i, r := range rules {
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("handoff rule %d: invalid pattern %q: %w", i, r.Pattern, err)
		}
		cr := compiledRule{re: re, verdict: r.Verdict}
		switch r.Target {
		case TargetQuery:
			if r.Verdict != VerdictSocial && r.Verdict != VerdictTechnical {
				return nil, fmt.Errorf("handoff rule %d: verdict %q not valid for query rules", i, r.Verdict)
			}
			c.query = append(c.query, cr)
		case TargetAnswer:
			if r.Verdict != VerdictNonAnswer && r.Verdict != VerdictAnswered {
				return nil, fmt.Errorf("handoff rule %d: verdict %q not valid for answer rules", i, r.Verdict)
			}
			c.answer = append(c.answer, cr)
		default:
			return nil, fmt.Errorf("handoff rule %d: unknown target %q", i, r.Target)
		}
	}
	return c, nil
}

// ClassifyQuery returns the first matching query verdict, technical otherwise.
func (c *Classifier) ClassifyQuery(query string) Verdict {
	return firstMatch(c.query, query, VerdictTechnical)
}

// ClassifyAnswer returns the first matching answer verdict, answered otherwise.
func (c *Classifier) ClassifyAnswer(answer string) Verdict {
	return firstMatch(c.answer, answer, VerdictAnswered)
}

// Classify applies: not social AND (non-answer OR no candidates).
func (c *Classifier) Classify(query, answer string, candidateCount int) Decision {
	d := Decision{
		QueryVerdict:   c.ClassifyQuery(query),
		AnswerVerdict:  c.ClassifyAnswer(answer),
		CandidateCount: candidateCount,
	}
	d.NeedsHuman = d.QueryVerdict != VerdictSocial &&
		(d.AnswerVerdict == VerdictNonAnswer || candidateCount == 0)
	return d
}

// NeedsHuman is a convenience wrapper around Classify.
func (c *Classifier) NeedsHuman(query, answer string, candidateCount int) bool {
	return c.Classify(query, answer, candidateCount).NeedsHuman
}

func firstMatch(rules []compiledRule, text string, fallback Verdict) Verdict {
	for _, r := range rules {
		if r.re.MatchString(text) {
			return r.verdict
		}
	}
	return fallback
}
