package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

type Turn struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type TurnsResponse struct {
	SessionID  string `json:"session_id"`
	Turns      []Turn `json:"turns"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// HistoryCmd creates the history command.
func HistoryCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the turns of a session, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api := NewAPIClientWithCmd(cmd)

			var resp TurnsResponse
			if err := api.GetData(cmd.Context(), turnsPath(args[0], cursor, limit), &resp); err != nil {
				return fmt.Errorf("history failed: %w", err)
			}

			if outputJSON, _ := cmd.Flags().GetBool("output"); outputJSON {
				output, _ := json.MarshalIndent(resp, "", "  ")
				fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return nil
			}
			renderTurns(cmd.OutOrStdout(), &resp)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of turns")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func turnsPath(sessionID, cursor string, limit int) string {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/turns"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	return path
}

func renderTurns(w io.Writer, resp *TurnsResponse) {
	if len(resp.Turns) == 0 {
		fmt.Fprintln(w, "No turns found.")
		return
	}
	for _, t := range resp.Turns {
		fmt.Fprintf(w, "%s %s\n", roleStyle.Render(t.Role), mutedStyle.Render(t.Timestamp))
		fmt.Fprintf(w, "%s\n\n", t.Content)
	}
	if resp.HasMore && resp.NextCursor != "" {
		fmt.Fprintln(w, mutedStyle.Render("More turns available. Use --cursor "+resp.NextCursor))
	}
}
