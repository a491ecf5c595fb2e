package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/spf13/cobra"
)

type askRequest struct {
	SessionID     string `json:"session_id,omitempty"`
	Query         string `json:"query"`
	K             int    `json:"k,omitempty"`
	TokenBudget   int    `json:"token_budget,omitempty"`
	TimeoutMS     int64  `json:"timeout_ms,omitempty"`
	SourcePrefix  string `json:"source_prefix,omitempty"`
	IngestedAfter string `json:"ingested_after,omitempty"`
}

// AskCmd returns the ask command
func AskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against the knowledge base",
		Long: `Ask a question and print a cited answer.

Each answer span is followed by markers like [1] that point at the
numbered sources listed underneath. Questions continue the current
session (see 'kbqa session start'); pass --session to pick another one or
--new to start over. The session an answer belongs to becomes current.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAsk,
	}

	cmd.Flags().StringP("session", "s", "", "Session ID to continue (default: current session)")
	cmd.Flags().Bool("new", false, "Start a new session instead of continuing the current one")
	cmd.Flags().IntP("k", "k", 0, "Number of chunks to retrieve (server default when 0)")
	cmd.Flags().Int("budget", 0, "Context token budget (server default when 0)")
	cmd.Flags().Duration("timeout", 0, "Turn timeout, e.g. 30s")
	cmd.Flags().String("prefix", "", "Only retrieve chunks whose source URI starts with this prefix")
	cmd.Flags().String("after", "", "Only retrieve chunks ingested after this RFC3339 time")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string) error {
	req := askRequest{Query: strings.Join(args, " ")}
	req.SessionID, _ = cmd.Flags().GetString("session")
	req.K, _ = cmd.Flags().GetInt("k")
	req.TokenBudget, _ = cmd.Flags().GetInt("budget")
	req.SourcePrefix, _ = cmd.Flags().GetString("prefix")
	req.IngestedAfter, _ = cmd.Flags().GetString("after")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	req.TimeoutMS = timeout.Milliseconds()
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if fresh, _ := cmd.Flags().GetBool("new"); fresh {
		if req.SessionID != "" {
			return fmt.Errorf("--new and --session are mutually exclusive")
		}
	} else if req.SessionID == "" {
		req.SessionID = CurrentSession()
	}

	if req.IngestedAfter != "" {
		if _, err := time.Parse(time.RFC3339, req.IngestedAfter); err != nil {
			return fmt.Errorf("--after must be RFC3339: %w", err)
		}
	}

	client, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}

	answer, err := client.Ask(cmd.Context(), req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == string(domain.ErrCodeNotFound) && req.SessionID != "" {
			return fmt.Errorf("%w\nsession %s no longer exists; rerun with --new", err, req.SessionID)
		}
		return err
	}
	if answer.SessionID != "" && answer.SessionID != req.SessionID {
		if err := rememberSession(answer.SessionID); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not save current session: %v\n", err)
		}
	}

	if jsonOutput {
		return printJSON(answer)
	}
	printAnswer(os.Stdout, answer)
	return nil
}

// Ask posts a question and decodes the answer.
func (c *APIClient) Ask(ctx context.Context, req askRequest) (*domain.Answer, error) {
	resp, err := c.Post(ctx, "/ask", req)
	if err != nil {
		return nil, err
	}
	var answer domain.Answer
	if err := json.Unmarshal(resp.Data, &answer); err != nil {
		return nil, fmt.Errorf("failed to parse answer: %w", err)
	}
	return &answer, nil
}

// printAnswer writes the answer text with citation markers and a numbered source list.
func printAnswer(w io.Writer, answer *domain.Answer) {
	index := make(map[string]int, len(answer.Citations))
	for i, c := range answer.Citations {
		index[c.ChunkID] = i + 1
	}

	var b strings.Builder
	for _, span := range answer.Spans {
		b.WriteString(span.Text)
		for _, id := range span.ChunkIDs {
			if n, ok := index[id]; ok {
				fmt.Fprintf(&b, "[%d]", n)
			}
		}
		if !span.Grounded {
			b.WriteString("[?]")
		}
		b.WriteString(" ")
	}
	fmt.Fprintln(w, strings.TrimSpace(b.String()))

	if len(answer.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Sources:")
		for i, c := range answer.Citations {
			fmt.Fprintf(w, "  [%d] %s (offset %d) %s\n", i+1, c.SourceURI, c.PageOrOffset, c.ChunkID)
		}
	}

	fmt.Fprintf(w, "\nsession %s, turn %s, %d attempt(s)\n", answer.SessionID, answer.TurnID, answer.Attempts)
}
