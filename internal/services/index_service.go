package services

import (
	"context"
	"strings"

	"mcqgen/internal/observability"
	"mcqgen/internal/similarity"

	"go.opentelemetry.io/otel/attribute"
)

// rebuildChunkSize bounds the number of texts sent to the embedder per call
const rebuildChunkSize = 64

// IndexSnapshot persists the full contents of the similarity index
type IndexSnapshot interface {
	SnapshotAppender
	Replace(ctx context.Context, entries []similarity.Entry) error
	Load(ctx context.Context) ([]similarity.Entry, error)
}

// IndexSource names where Bootstrap filled the index from
type IndexSource string

const (
	IndexFromSnapshot IndexSource = "snapshot"
	IndexFromRebuild  IndexSource = "rebuild"
)

// IndexService fills the shared similarity index at startup and on demand
type IndexService struct {
	embedder Embedder
	index    *similarity.MemoryIndex
	snapshot IndexSnapshot
	corpus   CorpusStore
	quizzes  QuizStore
	logger   *observability.Logger
}

// NewIndexService builds the service. snapshot may be nil.
func NewIndexService(embedder Embedder, index *similarity.MemoryIndex, snapshot IndexSnapshot, corpus CorpusStore, quizzes QuizStore, logger *observability.Logger) *IndexService {
	return &IndexService{
		embedder: embedder,
		index:    index,
		snapshot: snapshot,
		corpus:   corpus,
		quizzes:  quizzes,
		logger:   logger,
	}
}

// Bootstrap restores the index from the snapshot, falling back to a rebuild
// when the snapshot is missing, empty or unreadable.
func (s *IndexService) Bootstrap(ctx context.Context) (result0 IndexSource, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "bootstrap_index")
	defer observability.FinishSpan(span, &err)

	if s.snapshot != nil {
		entries, err := s.snapshot.Load(ctx)
		switch {
		case err != nil:
			s.logger.Warn(ctx, "Failed to load index snapshot, rebuilding", map[string]interface{}{"error": err.Error()})
		case len(entries) > 0:
			if err := s.index.Restore(entries); err != nil {
				s.logger.Warn(ctx, "Index snapshot is inconsistent, rebuilding", map[string]interface{}{"error": err.Error()})
				break
			}
			s.logger.Info(ctx, "Restored similarity index from snapshot", map[string]interface{}{"entries": len(entries)})
			return IndexFromSnapshot, nil
		}
	}

	if _, err := s.Rebuild(ctx); err != nil {
		return "", err
	}
	return IndexFromRebuild, nil
}

// Rebuild embeds every corpus entry and persisted item, replaces the index
// contents and rewrites the snapshot. Repeated question texts are indexed once.
func (s *IndexService) Rebuild(ctx context.Context) (result0 int, err error) {
	ctx, span := observability.TraceGenerationFunction(ctx, "rebuild_index")
	defer observability.FinishSpan(span, &err)

	var texts []string
	var metas []similarity.Meta
	seen := make(map[string]struct{})
	add := func(meta similarity.Meta) {
		meta.Question = strings.TrimSpace(meta.Question)
		if meta.Question == "" {
			return
		}
		if _, ok := seen[meta.Question]; ok {
			return
		}
		seen[meta.Question] = struct{}{}
		texts = append(texts, meta.Question)
		metas = append(metas, meta)
	}

	if s.corpus != nil {
		entries, err := s.corpus.All(ctx)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			add(similarity.Meta{Cluster: e.Cluster, Difficulty: e.Difficulty, Question: e.Question, Answer: e.CorrectAnswer})
		}
	}
	if s.quizzes != nil {
		items, err := s.quizzes.AllItems(ctx)
		if err != nil {
			return 0, err
		}
		for _, it := range items {
			add(similarity.Meta{Difficulty: it.Difficulty, Question: it.Question, Answer: it.Answer.Claimed()})
		}
	}

	fresh := similarity.NewMemoryIndex(0)
	for start := 0; start < len(texts); start += rebuildChunkSize {
		end := min(start+rebuildChunkSize, len(texts))
		vecs, err := s.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return 0, err
		}
		for i, vec := range vecs {
			if _, err := fresh.Insert(vec, metas[start+i]); err != nil {
				return 0, err
			}
		}
	}

	entries := fresh.Entries()
	if err := s.index.Restore(entries); err != nil {
		return 0, err
	}
	if s.snapshot != nil {
		if err := s.snapshot.Replace(ctx, entries); err != nil {
			s.logger.Warn(ctx, "Failed to rewrite index snapshot", map[string]interface{}{"error": err.Error()})
		}
	}

	span.SetAttributes(attribute.Int("index.size", len(entries)))
	s.logger.Info(ctx, "Rebuilt similarity index", map[string]interface{}{"entries": len(entries)})
	return len(entries), nil
}
