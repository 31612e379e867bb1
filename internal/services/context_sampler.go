package services

import (
	"context"
	"math/rand"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/similarity"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// SeedSource supplies seed questions from the corpus
type SeedSource interface {
	// RandomEntry returns a random entry, nil when the corpus is empty
	RandomEntry(ctx context.Context) (*models.CorpusEntry, error)
	// ByCluster returns every entry of one cluster, empty for an unknown cluster
	ByCluster(ctx context.Context, cluster string) ([]models.CorpusEntry, error)
}

// ContextSampler picks steering examples that differ in both cluster and
// difficulty from each other.
type ContextSampler struct {
	embedder Embedder
	index    similarity.Index
	seeds    SeedSource
	logger   *observability.Logger
	shuffle  func(n int, swap func(i, j int))
}

// NewContextSampler builds a sampler over index
func NewContextSampler(embedder Embedder, index similarity.Index, seeds SeedSource, logger *observability.Logger) *ContextSampler {
	return &ContextSampler{embedder: embedder, index: index, seeds: seeds, logger: logger, shuffle: rand.Shuffle}
}

// RandomSeed returns a random corpus question, "" when the corpus is empty
func (s *ContextSampler) RandomSeed(ctx context.Context) (string, error) {
	if s.seeds == nil {
		return "", nil
	}
	entry, err := s.seeds.RandomEntry(ctx)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	if entry == nil {
		return "", nil
	}
	return entry.Question, nil
}

// Sample embeds seed, searches min(3k, size) neighbours and keeps an entry only
// when neither its cluster nor its difficulty was taken yet.
func (s *ContextSampler) Sample(ctx context.Context, seed string, k int) (result0 []ContextItem, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "sample_context", attribute.Int("k", k))
	defer observability.FinishSpan(span, &err)

	size := s.index.Size()
	if seed == "" || k <= 0 || size == 0 {
		return nil, nil
	}

	vec, err := embedOne(ctx, s.embedder, seed)
	if err != nil {
		return nil, err
	}
	neighbors, err := s.index.Search(vec, min(3*k, size))
	if err != nil {
		return nil, err
	}

	usedClusters := make(map[string]struct{}, k)
	usedDifficulties := make(map[models.Difficulty]struct{}, k)
	out := make([]ContextItem, 0, k)
	for _, n := range neighbors {
		meta := n.Entry.Meta
		if meta.Cluster == "" {
			continue
		}
		if _, ok := usedClusters[meta.Cluster]; ok {
			continue
		}
		if _, ok := usedDifficulties[meta.Difficulty]; ok {
			continue
		}
		usedClusters[meta.Cluster] = struct{}{}
		usedDifficulties[meta.Difficulty] = struct{}{}
		out = append(out, ContextItem{
			Question:   meta.Question,
			Answer:     meta.Answer,
			Cluster:    meta.Cluster,
			Difficulty: meta.Difficulty,
		})
		if len(out) >= k {
			break
		}
	}

	if len(out) == 0 {
		s.logger.Warn(ctx, "No diverse context questions found", map[string]interface{}{"neighbors": len(neighbors)})
	}
	span.SetAttributes(attribute.Int("context.selected", len(out)))
	return out, nil
}

// SampleTopic picks up to k steering examples from one corpus cluster, one
// per difficulty first. When the cluster is too small the nearest indexed
// questions of other clusters fill the rest. A cluster without entries is
// ErrRecordNotFound.
func (s *ContextSampler) SampleTopic(ctx context.Context, topic string, k int) (result0 []ContextItem, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "sample_topic_context",
		attribute.String("topic", topic),
		attribute.Int("k", k),
	)
	defer observability.FinishSpan(span, &err)

	var entries []models.CorpusEntry
	if s.seeds != nil {
		entries, err = s.seeds.ByCluster(ctx, topic)
		if err != nil {
			return nil, err
		}
	}
	if len(entries) == 0 {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "no corpus entries for topic %q", topic)
	}
	if k <= 0 {
		return nil, nil
	}
	s.shuffle(len(entries), func(i, j int) { entries[i], entries[j] = entries[j], entries[i] })

	out := make([]ContextItem, 0, k)
	usedDifficulties := make(map[models.Difficulty]struct{}, len(models.Difficulties))
	var rest []models.CorpusEntry
	for _, e := range entries {
		if _, ok := usedDifficulties[e.Difficulty]; ok || len(out) >= k {
			rest = append(rest, e)
			continue
		}
		usedDifficulties[e.Difficulty] = struct{}{}
		out = append(out, corpusContext(e))
	}
	for _, e := range rest {
		if len(out) >= k {
			break
		}
		out = append(out, corpusContext(e))
	}

	inTopic := len(out)
	if len(out) < k {
		out = s.fillFromNeighbours(ctx, topic, out, k)
	}
	span.SetAttributes(attribute.Int("context.in_topic", inTopic), attribute.Int("context.selected", len(out)))
	return out, nil
}

// fillFromNeighbours tops out up to k with the nearest indexed questions of
// other clusters, searching around the first picked question.
func (s *ContextSampler) fillFromNeighbours(ctx context.Context, topic string, out []ContextItem, k int) []ContextItem {
	size := s.index.Size()
	if size == 0 || len(out) == 0 {
		return out
	}
	vec, err := embedOne(ctx, s.embedder, out[0].Question)
	if err != nil {
		s.logger.Warn(ctx, "Failed to embed topic question, keeping topic context only", map[string]interface{}{"topic": topic, "error": err.Error()})
		return out
	}
	neighbors, err := s.index.Search(vec, min(3*k+len(out), size))
	if err != nil {
		s.logger.Warn(ctx, "Neighbour search failed, keeping topic context only", map[string]interface{}{"topic": topic, "error": err.Error()})
		return out
	}

	taken := make(map[string]struct{}, k)
	for _, it := range out {
		taken[it.Question] = struct{}{}
	}
	for _, n := range neighbors {
		if len(out) >= k {
			break
		}
		meta := n.Entry.Meta
		if meta.Cluster == topic || meta.Question == "" {
			continue
		}
		if _, ok := taken[meta.Question]; ok {
			continue
		}
		taken[meta.Question] = struct{}{}
		out = append(out, ContextItem{
			Question:   meta.Question,
			Answer:     meta.Answer,
			Cluster:    meta.Cluster,
			Difficulty: meta.Difficulty,
		})
	}
	return out
}

func corpusContext(e models.CorpusEntry) ContextItem {
	return ContextItem{Question: e.Question, Answer: e.CorrectAnswer, Cluster: e.Cluster, Difficulty: e.Difficulty}
}
