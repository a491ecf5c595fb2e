package client

import (
	"context"
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// AuthCmd creates the auth parent command
func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
		Long:  "Login, logout, and check authentication status for the kbqa CLI",
	}

	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authStatusCmd())

	return cmd
}

func authLoginCmd() *cobra.Command {
	var (
		apiKey     string
		apiURL     string
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store the server URL and API key",
		Long: `Store the server URL and API key in ~/.config/kbqa/config.json.

The key is checked against the server before it is saved; pass
--skip-verify to store it without contacting the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				key, err := promptAPIKey()
				if err != nil {
					return err
				}
				apiKey = key
			}
			return runAuthLogin(apiKey, apiURL, !skipVerify)
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key configured on the server")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Save without checking the key against the server")

	return cmd
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials and the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout()
		},
	}
}

func authStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show where credentials come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return runAuthStatus(jsonOutput)
		},
	}

	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func promptAPIKey() (string, error) {
	fmt.Fprint(os.Stderr, "Enter API key: ")
	input, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read API key: %w", err)
	}
	return strings.TrimSpace(input), nil
}

func runAuthLogin(apiKey, apiURL string, verify bool) error {
	if !IsValidAPIKey(apiKey) {
		return fmt.Errorf("invalid API key: must be non-empty and contain no whitespace")
	}
	apiURL = strings.TrimRight(apiURL, "/")

	if verify {
		if err := verifyCredentials(apiKey, apiURL); err != nil {
			return err
		}
	}

	err := UpdateGlobalConfig(func(c *GlobalConfig) {
		// sessions live on one server
		if c.APIURL != apiURL {
			c.Session = ""
		}
		c.APIKey = apiKey
		c.APIURL = apiURL
	})
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Println("Successfully logged in")
	return nil
}

// verifyCredentials makes one cheap authenticated call.
func verifyCredentials(apiKey, apiURL string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_, err := NewAPIClientWithConfig(apiKey, apiURL).ListChunks(ctx, 1, "")
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("server at %s rejected the API key", apiURL)
	}
	return fmt.Errorf("could not verify credentials against %s (use --skip-verify to save anyway): %w", apiURL, err)
}

func runAuthLogout() error {
	if err := DeleteGlobalConfig(); err != nil {
		return fmt.Errorf("failed to logout: %w", err)
	}

	fmt.Println("Successfully logged out")
	return nil
}

type authStatus struct {
	Authenticated bool             `json:"authenticated"`
	Source        CredentialSource `json:"source"`
	APIKey        string           `json:"api_key,omitempty"`
	APIURL        string           `json:"api_url,omitempty"`
	Session       string           `json:"session,omitempty"`
}

func currentAuthStatus() authStatus {
	source, apiKey, apiURL := GetCredentialSource("", "")
	status := authStatus{
		Authenticated: source != SourceNone,
		Source:        source,
		Session:       CurrentSession(),
	}
	if status.Authenticated {
		status.APIKey = maskAPIKey(apiKey)
		status.APIURL = apiURL
	}
	return status
}

func runAuthStatus(jsonOutput bool) error {
	status := currentAuthStatus()

	if jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if !status.Authenticated {
		fmt.Println("Not authenticated")
		fmt.Println("Run 'kbqa auth login' to authenticate")
		return nil
	}
	fmt.Printf("Source:  %s\n", status.Source)
	fmt.Printf("API key: %s\n", status.APIKey)
	fmt.Printf("API URL: %s\n", status.APIURL)
	if status.Session != "" {
		fmt.Printf("Session: %s\n", status.Session)
	}
	return nil
}

func maskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
