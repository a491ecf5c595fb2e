package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type chunkView struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	SourceURI    string `json:"source_uri"`
	PageOrOffset int    `json:"page_or_offset"`
	Dimensions   int    `json:"dimensions,omitempty"`
	IngestedAt   string `json:"ingested_at"`
}

type chunkPage struct {
	Items   []chunkView `json:"items"`
	Cursor  string      `json:"cursor,omitempty"`
	HasMore bool        `json:"has_more"`
}

// ChunksCmd returns the chunks command group
func ChunksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "Inspect stored chunks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List chunks in ingestion order",
		Args:  cobra.NoArgs,
		RunE:  runChunksList,
	}
	list.Flags().Int("limit", 50, "Page size")
	list.Flags().String("cursor", "", "Cursor from a previous page")
	list.Flags().Bool("json", false, "Output as JSON")

	get := &cobra.Command{
		Use:   "get <chunk-id>",
		Short: "Show a single chunk",
		Args:  cobra.ExactArgs(1),
		RunE:  runChunksGet,
	}
	get.Flags().Bool("json", false, "Output as JSON")

	cmd.AddCommand(list, get)
	return cmd
}

func runChunksList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	cursor, _ := cmd.Flags().GetString("cursor")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	client, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}
	page, err := client.ListChunks(cmd.Context(), limit, cursor)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(page)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tOFFSET\tINGESTED")
	for _, c := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.SourceURI, c.PageOrOffset, c.IngestedAt)
	}
	w.Flush()
	if page.HasMore {
		fmt.Fprintf(os.Stderr, "\nmore results: --cursor %s\n", page.Cursor)
	}
	return nil
}

func runChunksGet(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	client, err := NewAPIClient(cmd)
	if err != nil {
		return err
	}
	chunk, err := client.GetChunk(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(chunk)
	}
	fmt.Printf("%s\n%s (offset %d), ingested %s\n\n%s\n", chunk.ID, chunk.SourceURI, chunk.PageOrOffset, chunk.IngestedAt, chunk.Text)
	return nil
}

// ListChunks fetches one page of chunks.
func (c *APIClient) ListChunks(ctx context.Context, limit int, cursor string) (*chunkPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := "/chunks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var page chunkPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return nil, fmt.Errorf("failed to parse chunk page: %w", err)
	}
	return &page, nil
}

// GetChunk fetches a chunk by ID.
func (c *APIClient) GetChunk(ctx context.Context, id string) (*chunkView, error) {
	resp, err := c.Get(ctx, "/chunks/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var chunk chunkView
	if err := json.Unmarshal(resp.Data, &chunk); err != nil {
		return nil, fmt.Errorf("failed to parse chunk: %w", err)
	}
	return &chunk, nil
}
