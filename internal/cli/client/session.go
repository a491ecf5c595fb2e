package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/spf13/cobra"
)

type sessionHistory struct {
	Session *service.SessionInfo `json:"session"`
	Turns   []domain.Turn        `json:"turns"`
}

// SessionCmd returns the session command group
func SessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
	}

	cmd.AddCommand(sessionStartCmd())
	cmd.AddCommand(sessionEndCmd())
	cmd.AddCommand(sessionHistoryCmd())

	return cmd
}

func sessionStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Open a new session, make it current and print its ID",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			info, err := client.StartSession(cmd.Context())
			if err != nil {
				return err
			}
			if err := rememberSession(info.ID); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not save current session: %v\n", err)
			}
			fmt.Println(info.ID)
			return nil
		},
	}
}

func sessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end [session-id]",
		Short: "End a session (the current one by default) and discard its conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args)
			if err != nil {
				return err
			}
			client, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			endErr := client.EndSession(cmd.Context(), id)
			var apiErr *APIError
			if endErr != nil && !(errors.As(endErr, &apiErr) && apiErr.Code == string(domain.ErrCodeNotFound)) {
				return endErr
			}
			// an unknown session is gone either way, so stop remembering it
			if err := forgetSession(id); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not clear current session: %v\n", err)
			}
			if endErr != nil {
				return endErr
			}
			fmt.Fprintf(os.Stderr, "Session %s ended\n", id)
			return nil
		},
	}
}

func sessionHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "Show the retained turns of a session (the current one by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := sessionArg(args)
			if err != nil {
				return err
			}
			client, err := NewAPIClient(cmd)
			if err != nil {
				return err
			}
			history, err := client.SessionHistory(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
				return printJSON(history)
			}
			for i, turn := range history.Turns {
				fmt.Printf("#%d %s\nQ: %s\n", i+1, turn.CreatedAt.Format("2006-01-02 15:04:05"), turn.Query)
				answer := turn.Answer
				printAnswer(os.Stdout, &answer)
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func sessionArg(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if id := CurrentSession(); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("no session given and no current session (run 'kbqa session start')")
}

// StartSession opens a session on the server.
func (c *APIClient) StartSession(ctx context.Context) (*service.SessionInfo, error) {
	resp, err := c.Post(ctx, "/sessions", struct{}{})
	if err != nil {
		return nil, err
	}
	var info service.SessionInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse session: %w", err)
	}
	return &info, nil
}

// EndSession deletes a session on the server.
func (c *APIClient) EndSession(ctx context.Context, id string) error {
	_, err := c.Delete(ctx, "/sessions/"+url.PathEscape(id))
	return err
}

// SessionHistory fetches the turns of a session.
func (c *APIClient) SessionHistory(ctx context.Context, id string) (*sessionHistory, error) {
	resp, err := c.Get(ctx, "/sessions/"+url.PathEscape(id)+"/history")
	if err != nil {
		return nil, err
	}
	var history sessionHistory
	if err := json.Unmarshal(resp.Data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse history: %w", err)
	}
	return &history, nil
}
