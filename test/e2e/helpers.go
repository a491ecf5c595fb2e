//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/kbqa/internal/api/handlers"
	"github.com/cloo-solutions/kbqa/internal/api/middleware"
	"github.com/cloo-solutions/kbqa/internal/domain"
	"github.com/cloo-solutions/kbqa/internal/metrics"
	"github.com/cloo-solutions/kbqa/internal/repository"
	"github.com/cloo-solutions/kbqa/internal/server"
	"github.com/cloo-solutions/kbqa/internal/service"
	"github.com/cloo-solutions/kbqa/internal/storage"
	"github.com/cloo-solutions/kbqa/internal/testutil"
)

const (
	e2eAPIKey = "kbqa-e2e-key"
	e2eBucket = "kb-docs"
	e2eRegion = "us-east-1"
)

// vocabulary drives the deterministic test embedder; each word is one dimension.
var vocabulary = []string{"refund", "shipping", "warranty", "password"}

// termEmbedder flags the presence of each vocabulary word.
type termEmbedder []string

func (e termEmbedder) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	out := make([]float32, len(e))
	for i, w := range e {
		if strings.Contains(lower, w) {
			out[i] = 1
		}
	}
	return out, nil
}

// quotingBackend answers with a fixed sentence that cites the first context chunk.
type quotingBackend struct{}

func (quotingBackend) Complete(_ context.Context, p service.Prompt, _ service.CompletionOptions) (*service.Completion, error) {
	if len(p.ChunkIDs) == 0 {
		return &service.Completion{Text: "I could not find this in the knowledge base."}, nil
	}
	text := "According to the documents, the policy applies."
	return &service.Completion{Text: text, Attribution: &service.Attribution{Segments: []service.AttributedSegment{
		{Start: 0, End: len(text), SourceIDs: []string{p.ChunkIDs[0]}},
	}}}, nil
}

// Env is a running kbqa stack: Postgres, an S3 bucket and the API server
// wired with a deterministic embedder and backend. Everything is torn down
// through t.Cleanup.
type Env struct {
	T      *testing.T
	Ctx    context.Context
	Store  *repository.ChunkRepository
	Ingest *service.IngestService
	URL    string

	rustfs *testutil.RustFSContainer
	rawS3  *s3.Client
	http   *http.Client
	cliBin string
}

func SetupEnv(t *testing.T) *Env {
	t.Helper()
	ctx := context.Background()

	pg := testutil.NewPostgresContainer(ctx, t)
	t.Cleanup(func() { pg.Terminate(ctx) })
	rustfs := testutil.NewRustFSContainer(ctx, t)
	t.Cleanup(func() { rustfs.Terminate(ctx) })

	pool := testutil.NewTestPool(ctx, t, pg, "../../migrations")
	t.Cleanup(pool.Close)

	raw := s3.New(s3.Options{
		Region:       e2eRegion,
		BaseEndpoint: aws.String(rustfs.Endpoint()),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(testutil.RustFSAccessKey, testutil.RustFSSecretKey, ""),
	})
	_, err := raw.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(e2eBucket)})
	require.NoError(t, err, "create bucket")

	store := repository.NewChunkRepository(pool, len(vocabulary))
	ingest := service.NewIngestService(termEmbedder(vocabulary), store, service.DefaultIngestConfig(), nil)

	srv := httptest.NewServer(newHandler(store, ingest))
	t.Cleanup(srv.Close)

	return &Env{
		T:      t,
		Ctx:    ctx,
		Store:  store,
		Ingest: ingest,
		URL:    srv.URL,
		rustfs: rustfs,
		rawS3:  raw,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func newHandler(store *repository.ChunkRepository, ingest *service.IngestService) http.Handler {
	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	tokenizer := service.WordTokenizer{}
	engine := service.NewEngine(
		termEmbedder(vocabulary),
		service.NewRetriever(store, service.DefaultRetrieverConfig()),
		service.NewAssembler(tokenizer, service.AssemblerConfig{}),
		service.NewOrchestrator(quotingBackend{}, service.NewReconciler(service.DefaultReconcilerConfig()), tokenizer, service.DefaultOrchestratorConfig(), m),
		service.NewSessionManager(domain.DefaultMaxTurns, m),
		service.DefaultEngineConfig(),
		m,
	)

	return server.NewRouter(server.RouterConfig{
		AuthValidator:   middleware.NewStaticKeyValidator(e2eAPIKey, "e2e"),
		MetricsHandler:  metrics.Handler(reg),
		Store:           store,
		AskHandler:      handlers.NewAskHandler(engine),
		SessionHandler:  handlers.NewSessionHandler(engine),
		DocumentHandler: handlers.NewDocumentHandler(ingest),
		ChunkHandler:    handlers.NewChunkHandler(store),
	})
}

// Source reads the test bucket through the same S3 client ingestion uses.
func (e *Env) Source() *storage.S3Client {
	client, err := storage.NewS3Client(e.Ctx, storage.S3ClientConfig{
		Endpoint:        e.rustfs.Endpoint(),
		Region:          e2eRegion,
		AccessKeyID:     testutil.RustFSAccessKey,
		SecretAccessKey: testutil.RustFSSecretKey,
		Bucket:          e2eBucket,
		UsePathStyle:    true,
	})
	require.NoError(e.T, err, "s3 client")
	return client
}

func (e *Env) PutObject(key, body string) {
	_, err := e.rawS3.PutObject(e.Ctx, &s3.PutObjectInput{
		Bucket: aws.String(e2eBucket),
		Key:    aws.String(key),
		Body:   strings.NewReader(body),
	})
	require.NoError(e.T, err, "put %s", key)
}

// BuildCLI compiles cmd/kbqa into a temp dir.
func (e *Env) BuildCLI() {
	dir := e.T.TempDir()
	e.cliBin = filepath.Join(dir, "kbqa")

	cmd := exec.Command("go", "build", "-o", e.cliBin, "./cmd/kbqa")
	cmd.Dir = "../.."
	out, err := cmd.CombinedOutput()
	require.NoError(e.T, err, "build kbqa:\n%s", out)
}

// RunCLI runs the kbqa binary against the test server. configDir isolates
// the client's config.json, including its remembered session.
func (e *Env) RunCLI(workDir, configDir string, args ...string) (string, error) {
	cmd := exec.Command(e.cliBin, args...)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(),
		"KBQA_API_KEY="+e2eAPIKey,
		"KBQA_API_URL="+e.URL,
		"KBQA_CONFIG_DIR="+configDir,
	)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// APIResponse is a decoded response envelope.
type APIResponse struct {
	Status int
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

func (e *Env) Get(path string) *APIResponse {
	return e.do(http.MethodGet, path, nil, e2eAPIKey)
}

func (e *Env) Post(path string, body any) *APIResponse {
	return e.do(http.MethodPost, path, body, e2eAPIKey)
}

func (e *Env) Delete(path string) *APIResponse {
	return e.do(http.MethodDelete, path, nil, e2eAPIKey)
}

func (e *Env) do(method, path string, body any, token string) *APIResponse {
	e.T.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(e.T, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.URL+path, reader)
	require.NoError(e.T, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.http.Do(req)
	require.NoError(e.T, err, "%s %s", method, path)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(e.T, err)

	out := &APIResponse{Status: resp.StatusCode}
	if len(raw) > 0 {
		require.NoError(e.T, json.Unmarshal(raw, out), "HTTP %d: %s", resp.StatusCode, raw)
	}
	return out
}

// Decode unmarshals the data envelope into v.
func (r *APIResponse) Decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v), "decode %s", r.Data)
}
