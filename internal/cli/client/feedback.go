package client

import (
	"fmt"

	"github.com/spf13/cobra"
)

type FeedbackRequest struct {
	AnswerID string `json:"answer_id"`
	Helpful  *bool  `json:"helpful"`
	Note     string `json:"note,omitempty"`
}

// FeedbackCmd creates the feedback command.
func FeedbackCmd() *cobra.Command {
	var (
		helpful    bool
		notHelpful bool
		note       string
	)

	cmd := &cobra.Command{
		Use:   "feedback <answer-id>",
		Short: "Mark an answer as helpful or not",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if helpful == notHelpful {
				return fmt.Errorf("pass exactly one of --helpful or --not-helpful")
			}

			api := NewAPIClientWithCmd(cmd)
			req := FeedbackRequest{AnswerID: args[0], Helpful: &helpful, Note: note}
			if err := api.PostData(cmd.Context(), "/ask/feedback", req, nil); err != nil {
				return fmt.Errorf("feedback failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Feedback recorded.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&helpful, "helpful", false, "The answer solved the problem")
	cmd.Flags().BoolVar(&notHelpful, "not-helpful", false, "The answer did not help")
	cmd.Flags().StringVar(&note, "note", "", "Optional free-text note")

	return cmd
}
