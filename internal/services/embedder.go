package services

import (
	"context"

	"mcqgen/internal/config"
	"mcqgen/internal/observability"
	"mcqgen/internal/similarity"
	contextutils "mcqgen/internal/utils"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	embeddingChunkSize   = 64
	embeddingConcurrency = 4
)

// Embedder maps texts to fixed-length vectors, one per input, in order
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIEmbedder calls an OpenAI compatible /embeddings endpoint. Vectors are
// unit-normalised so L2 and cosine thresholds line up.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder builds the embedding client
func NewOpenAIEmbedder(cfg config.EmbedderConfig) (*OpenAIEmbedder, error) {
	if cfg.URL == "" && cfg.APIKey == "" {
		return nil, contextutils.WrapError(contextutils.ErrAIConfigInvalid, "embedder needs a base URL or an API key")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.URL != "" {
		clientConfig.BaseURL = cfg.URL
	}
	clientConfig.HTTPClient = newInstrumentedClient(config.EmbeddingTimeout)

	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(clientConfig), model: model}, nil
}

// Embed splits texts into chunks and embeds them concurrently
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) (result0 [][]float32, err error) {
	ctx, span := observability.TraceOracleFunction(ctx, "embed", attribute.Int("texts.count", len(texts)))
	defer observability.FinishSpan(span, &err)

	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embeddingConcurrency)
	for start := 0; start < len(texts); start += embeddingChunkSize {
		start := start
		end := min(start+embeddingChunkSize, len(texts))
		g.Go(func() error {
			resp, err := e.client.CreateEmbeddings(gctx, openai.EmbeddingRequest{
				Input: texts[start:end],
				Model: openai.EmbeddingModel(e.model),
			})
			if err != nil {
				return mapOpenAIError(err)
			}
			if len(resp.Data) != end-start {
				return contextutils.WrapErrorf(contextutils.ErrAIResponseInvalid, "embedder returned %d vectors for %d inputs", len(resp.Data), end-start)
			}
			for i, d := range resp.Data {
				idx := i
				if d.Index >= 0 && d.Index < end-start {
					idx = d.Index
				}
				out[start+idx] = similarity.Normalize(d.Embedding)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// embedOne embeds a single text
func embedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, contextutils.WrapError(contextutils.ErrAIResponseInvalid, "embedder returned no vector")
	}
	return vecs[0], nil
}
