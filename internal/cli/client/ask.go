package client

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// AskRequest mirrors the POST /ask body.
type AskRequest struct {
	Query      string   `json:"query"`
	SessionID  string   `json:"session_id,omitempty"`
	TopK       *int     `json:"top_k,omitempty"`
	WSemantic  *float64 `json:"w_semantic,omitempty"`
	WLexical   *float64 `json:"w_lexical,omitempty"`
	WTrigram   *float64 `json:"w_trigram,omitempty"`
	MaxHistory *int     `json:"max_history,omitempty"`
}

type Citation struct {
	Index     int     `json:"index"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Snippet   string  `json:"snippet"`
	Score     float64 `json:"score"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// AskResponse is the flat /ask response.
type AskResponse struct {
	Answer         string     `json:"answer"`
	Citations      []Citation `json:"citations"`
	NeedsHumanHelp bool       `json:"needs_human_help"`
	SessionID      string     `json:"session_id"`
	AnswerID       string     `json:"answer_id,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
}

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask the support assistant a question",
		Long: `Sends a question to the answer pipeline and prints the answer with its
citations. Pass --session to continue a conversation; the session id of every
answer is printed so it can be reused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().StringP("session", "s", "", "Session id to continue")
	cmd.Flags().IntP("top-k", "k", 0, "Number of passages to retrieve (server default when unset)")
	cmd.Flags().Float64("w-semantic", 0, "Semantic signal weight")
	cmd.Flags().Float64("w-lexical", 0, "Lexical signal weight")
	cmd.Flags().Float64("w-trigram", 0, "Trigram signal weight")
	cmd.Flags().Int("history", 0, "Prior turns to include (server default when unset)")

	return cmd
}

func buildAskRequest(cmd *cobra.Command, args []string) AskRequest {
	req := AskRequest{Query: strings.Join(args, " ")}
	req.SessionID, _ = cmd.Flags().GetString("session")

	flags := cmd.Flags()
	if flags.Changed("top-k") {
		v, _ := flags.GetInt("top-k")
		req.TopK = &v
	}
	if flags.Changed("history") {
		v, _ := flags.GetInt("history")
		req.MaxHistory = &v
	}
	for name, dst := range map[string]**float64{
		"w-semantic": &req.WSemantic,
		"w-lexical":  &req.WLexical,
		"w-trigram":  &req.WTrigram,
	} {
		if flags.Changed(name) {
			v, _ := flags.GetFloat64(name)
			*dst = &v
		}
	}
	return req
}

func runAsk(cmd *cobra.Command, args []string) error {
	api := NewAPIClientWithCmd(cmd)

	var resp AskResponse
	if err := api.Post(cmd.Context(), "/ask", buildAskRequest(cmd, args), &resp); err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
		output, _ := json.MarshalIndent(resp, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(output))
		return nil
	}
	renderAnswer(cmd.OutOrStdout(), &resp)
	return nil
}

func renderAnswer(w io.Writer, resp *AskResponse) {
	fmt.Fprintln(w, answerStyle.Render(strings.TrimSpace(resp.Answer)))

	if len(resp.Citations) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Sources"))
		for _, c := range resp.Citations {
			fmt.Fprintf(w, "[#%d] %s %s\n", c.Index, c.Title, mutedStyle.Render(fmt.Sprintf("(%.3f)", c.Score)))
			if c.URL != "" && c.URL != "#" {
				fmt.Fprintf(w, "     %s\n", mutedStyle.Render(c.URL))
			}
		}
	}

	if resp.NeedsHumanHelp {
		fmt.Fprintln(w, handoffStyle.Render("A human agent should follow up on this conversation."))
	}
	for _, warning := range resp.Warnings {
		fmt.Fprintln(w, warnStyle.Render("warning: "+warning))
	}

	meta := "session " + resp.SessionID
	if resp.AnswerID != "" {
		meta += "  answer " + resp.AnswerID
	}
	fmt.Fprintln(w, mutedStyle.Render(meta))
}
