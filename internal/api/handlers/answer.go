package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cloo-solutions/supportdesk/internal/api"
	"github.com/cloo-solutions/supportdesk/internal/domain"
	"github.com/cloo-solutions/supportdesk/internal/service"
)

type AnswerService interface {
	Ask(ctx context.Context, in service.AskInput) (*service.AskOutcome, error)
	RecordFeedback(ctx context.Context, answerID string, helpful bool, note string) error
}

type AnswerHandler struct {
	svc     AnswerService
	timeout time.Duration
}

// NewAnswerHandler bounds each pipeline run by timeout; zero means the
// request context alone decides.
func NewAnswerHandler(svc AnswerService, timeout time.Duration) *AnswerHandler {
	return &AnswerHandler{svc: svc, timeout: timeout}
}

type AskRequest struct {
	Query      string   `json:"query"`
	SessionID  string   `json:"session_id,omitempty"`
	TopK       *int     `json:"top_k,omitempty"`
	WSemantic  *float64 `json:"w_semantic,omitempty"`
	WLexical   *float64 `json:"w_lexical,omitempty"`
	WTrigram   *float64 `json:"w_trigram,omitempty"`
	MaxHistory *int     `json:"max_history,omitempty"`
}

type CitationResponse struct {
	Index     int     `json:"index"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

type SourceResponse struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	SourceTitle   string  `json:"source_title,omitempty"`
	SourceURL     string  `json:"source_url,omitempty"`
	UpdatedAt     string  `json:"updated_at,omitempty"`
	Score         float64 `json:"score"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	TrigramScore  float64 `json:"trigram_score"`
}

type AskResponse struct {
	Answer         string             `json:"answer"`
	Citations      []CitationResponse `json:"citations"`
	Sources        []SourceResponse   `json:"sources"`
	NeedsHumanHelp bool               `json:"needs_human_help"`
	SessionID      string             `json:"session_id"`
	AnswerID       string             `json:"answer_id,omitempty"`
	Warnings       []string           `json:"warnings,omitempty"`
}

type FeedbackRequest struct {
	AnswerID string `json:"answer_id"`
	Helpful  *bool  `json:"helpful"`
	Note     string `json:"note,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func askToResponse(out *service.AskOutcome) *AskResponse {
	resp := &AskResponse{
		Answer:         out.Result.Answer,
		Citations:      make([]CitationResponse, len(out.Result.Citations)),
		Sources:        make([]SourceResponse, len(out.Sources)),
		NeedsHumanHelp: out.Result.NeedsHumanHelp,
		SessionID:      out.Result.SessionID,
		AnswerID:       out.AnswerID,
	}
	for i, c := range out.Result.Citations {
		resp.Citations[i] = CitationResponse{
			Index:     c.Index,
			Title:     c.Title,
			URL:       c.URL,
			Snippet:   c.Snippet,
			Score:     c.Score,
			UpdatedAt: formatTime(c.UpdatedAt),
		}
	}
	for i, s := range out.Sources {
		resp.Sources[i] = SourceResponse{
			ID:            s.Passage.ID,
			Content:       s.Passage.Content,
			SourceTitle:   s.Passage.SourceTitle,
			SourceURL:     s.Passage.SourceURL,
			UpdatedAt:     formatTime(s.Passage.UpdatedAt),
			Score:         s.Score,
			SemanticScore: s.SemanticScore,
			LexicalScore:  s.LexicalScore,
			TrigramScore:  s.TrigramScore,
		}
	}

	for _, d := range out.Degraded {
		resp.Warnings = append(resp.Warnings, "signal_degraded:"+string(d.Signal))
	}
	if out.Effects.HistoryFetch.Err != nil {
		resp.Warnings = append(resp.Warnings, "history_unavailable")
	}
	if out.Effects.HistoryAppend.Err != nil {
		resp.Warnings = append(resp.Warnings, "history_not_saved")
	}
	return resp
}

// Ask handles POST /ask.
func (h *AnswerHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "invalid request body"))
		return
	}

	ctx := r.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	out, err := h.svc.Ask(ctx, service.AskInput{
		Query:      req.Query,
		SessionID:  req.SessionID,
		TopK:       req.TopK,
		WSemantic:  req.WSemantic,
		WLexical:   req.WLexical,
		WTrigram:   req.WTrigram,
		MaxHistory: req.MaxHistory,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.JSON(w, http.StatusOK, askToResponse(out))
}

// Feedback handles POST /ask/feedback.
func (h *AnswerHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "invalid request body"))
		return
	}
	if req.Helpful == nil {
		api.HandleError(w, domain.NewDomainError(domain.ErrCodeValidation, "helpful is required"))
		return
	}

	if err := h.svc.RecordFeedback(r.Context(), req.AnswerID, *req.Helpful, req.Note); err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]any{"status": "ok"})
}
