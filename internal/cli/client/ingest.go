package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

type ingestDocumentRequest struct {
	SourceURI string `json:"source_uri"`
	Text      string `json:"text"`
}

type ingestResult struct {
	SourceURI string   `json:"source_uri"`
	ChunkIDs  []string `json:"chunk_ids"`
	Skipped   int      `json:"skipped"`
}

var ingestExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
}

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Upload local text documents into the knowledge base",
		Long: `Upload text and markdown files to the server for chunking and embedding.

Directories are walked recursively. Each file's source URI defaults to
file://<absolute path>; use --uri-prefix to publish them under another prefix.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().String("uri-prefix", "", "Source URI prefix replacing file://<dir>")
	cmd.Flags().Bool("json", false, "Output as JSON")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("uri-prefix")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	client, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}

	var results []*ingestResult
	for _, root := range args {
		files, err := collectDocuments(root)
		if err != nil {
			return err
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			uri, err := sourceURIFor(root, path, prefix)
			if err != nil {
				return err
			}
			result, err := client.IngestDocument(cmd.Context(), uri, string(data))
			if err != nil {
				return fmt.Errorf("ingest %s: %w", path, err)
			}
			results = append(results, result)
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "%s: %d chunk(s), %d skipped\n", uri, len(result.ChunkIDs), result.Skipped)
			}
		}
	}

	if jsonOutput {
		return printJSON(results)
	}
	return nil
}

// IngestDocument uploads one document.
func (c *APIClient) IngestDocument(ctx context.Context, sourceURI, text string) (*ingestResult, error) {
	resp, err := c.Post(ctx, "/documents", ingestDocumentRequest{SourceURI: sourceURI, Text: text})
	if err != nil {
		return nil, err
	}
	var result ingestResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ingest result: %w", err)
	}
	return &result, nil
}

func collectDocuments(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if ingestExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func sourceURIFor(root, path, prefix string) (string, error) {
	if prefix == "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", err
		}
		return "file://" + filepath.ToSlash(abs), nil
	}

	base := root
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		base = filepath.Dir(root)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(prefix, "/") + "/" + filepath.ToSlash(rel), nil
}
