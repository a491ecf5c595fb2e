package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/kbqa/internal/config"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/metrics"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/cloo-solutions/kbqa/internal/storage"
	"github.com/spf13/cobra"
)

// IngestCmd returns the ingest command
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Chunk, embed and store documents",
		Long: `Ingest documents straight into the chunk store, bypassing the API.

With --s3-prefix, objects under that prefix in S3_BUCKET are read. Otherwise
the given directory is walked. Documents already ingested produce the same
chunk IDs and are skipped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().String("s3-prefix", "", "Ingest objects under this key prefix from S3_BUCKET")
	cmd.Flags().Bool("json", false, "Output the report as JSON")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	s3Prefix, _ := cmd.Flags().GetString("s3-prefix")
	useS3 := cmd.Flags().Changed("s3-prefix")
	if !useS3 && len(args) == 0 {
		return fmt.Errorf("a directory or --s3-prefix is required")
	}

	var (
		source service.DocumentSource
		prefix string
	)
	if useS3 {
		if !cfg.HasS3() {
			return fmt.Errorf("S3_BUCKET must be set to ingest from S3")
		}
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    cfg.S3Endpoint != "",
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		source, prefix = s3Client, s3Prefix
	} else {
		dir, err := newDirSource(args[0])
		if err != nil {
			return err
		}
		source = dir
	}

	store, closeStore, err := openStore(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer closeStore()

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}

	collectors := metrics.New(metrics.NewRegistry())
	report, err := newIngestService(cfg, embedder, store, collectors).IngestSource(ctx, source, prefix)
	if err != nil {
		return err
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		output, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}
		fmt.Println(string(output))
		return nil
	}

	log.Printf("ingested %d document(s) into %d chunk(s)", report.Documents, report.Chunks)
	for _, key := range report.Skipped {
		log.Printf("skipped %s", key)
	}
	return nil
}

// dirSource serves documents from a local directory tree.
type dirSource struct {
	root string
}

func newDirSource(root string) (*dirSource, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}
	return &dirSource{root: abs}, nil
}

func (d *dirSource) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			if path != d.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	return keys, err
}

// ReadObject applies the same size cap as the S3 source.
func (d *dirSource) ReadObject(_ context.Context, key string) ([]byte, error) {
	path := filepath.Join(d.root, filepath.FromSlash(key))
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeNotFound, domain.ErrObjectNotFound.Message, err)
	}
	if err != nil {
		return nil, err
	}
	if info.Size() > storage.DefaultMaxObjectBytes {
		return nil, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, domain.ErrDocumentTooLarge.Message,
			fmt.Errorf("%s is %d bytes", path, info.Size()))
	}
	return os.ReadFile(path)
}

func (d *dirSource) URI(key string) string {
	return "file://" + filepath.ToSlash(filepath.Join(d.root, filepath.FromSlash(key)))
}
