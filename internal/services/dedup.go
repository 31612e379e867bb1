package services

import (
	"context"
	"strings"

	"mcqgen/internal/config"
	"mcqgen/internal/models"
	"mcqgen/internal/observability"
	"mcqgen/internal/parser"
	"mcqgen/internal/similarity"
)

// RejectReason names the filter that dropped a candidate; empty means accepted
type RejectReason string

const (
	RejectNone      RejectReason = ""
	RejectInvalid   RejectReason = "invalid"
	RejectRepeat    RejectReason = "exact_repeat"
	RejectHistory   RejectReason = "similar_to_history"
	RejectBatch     RejectReason = "similar_in_batch"
	RejectDuplicate RejectReason = "global_duplicate"
)

// SnapshotAppender persists index entries as they are admitted
type SnapshotAppender interface {
	Append(ctx context.Context, entries ...similarity.Entry) error
}

// DedupGate decides whether a generated item is new enough to keep
type DedupGate struct {
	embedder Embedder
	index    similarity.Index
	snapshot SnapshotAppender
	cfg      config.DedupConfig
	metrics  *observability.GenerationMetrics
	logger   *observability.Logger
}

// NewDedupGate builds a gate. snapshot may be nil.
func NewDedupGate(embedder Embedder, index similarity.Index, snapshot SnapshotAppender, cfg config.DedupConfig, metrics *observability.GenerationMetrics, logger *observability.Logger) *DedupGate {
	return &DedupGate{embedder: embedder, index: index, snapshot: snapshot, cfg: cfg, metrics: metrics, logger: logger}
}

// HistoryVectors embeds the owner's recent question texts once per request
func (g *DedupGate) HistoryVectors(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return g.embedder.Embed(ctx, texts)
}

// DedupBatch carries the state of one generation call: texts already in the
// quiz, vectors accepted so far and the owner's history vectors.
type DedupBatch struct {
	gate     *DedupGate
	seen     map[string]struct{}
	accepted [][]float32
	history  [][]float32
}

// NewBatch starts a call. quizTexts are questions already placed in the quiz.
func (g *DedupGate) NewBatch(quizTexts []string, history [][]float32) *DedupBatch {
	seen := make(map[string]struct{}, len(quizTexts))
	for _, t := range quizTexts {
		seen[strings.TrimSpace(t)] = struct{}{}
	}
	return &DedupBatch{gate: g, seen: seen, history: history}
}

// Admit runs every filter on item and, when it passes, inserts its vector
// into the index before returning. A non-nil error means the embedder or
// index failed and the item was not admitted.
func (b *DedupBatch) Admit(ctx context.Context, item models.Item) (RejectReason, error) {
	g := b.gate
	reason, err := b.check(ctx, item)
	if err != nil {
		return RejectNone, err
	}
	if reason != RejectNone {
		if g.metrics != nil {
			g.metrics.ItemsRejected.WithLabelValues(string(reason)).Inc()
		}
		g.logger.Debug(ctx, "Rejected generated item", map[string]interface{}{
			"reason":   string(reason),
			"question": item.Question,
		})
	}
	return reason, nil
}

func (b *DedupBatch) check(ctx context.Context, item models.Item) (RejectReason, error) {
	g := b.gate
	if err := parser.Validate(item); err != nil {
		return RejectInvalid, nil
	}

	text := strings.TrimSpace(item.Question)
	if _, ok := b.seen[text]; ok {
		return RejectRepeat, nil
	}

	vec, err := embedOne(ctx, g.embedder, text)
	if err != nil {
		return RejectNone, err
	}

	if len(b.history) > 0 && similarity.MaxCosine(vec, b.history) >= g.cfg.HistoryThreshold {
		return RejectHistory, nil
	}
	if len(b.accepted) > 0 && similarity.MaxCosine(vec, b.accepted) >= g.cfg.BatchThreshold {
		return RejectBatch, nil
	}

	entry, ok, err := g.index.Admit(vec, similarity.Meta{
		Difficulty: item.Difficulty,
		Question:   text,
		Answer:     item.Answer.Claimed(),
	}, g.cfg.GlobalNeighbors, float32(1-g.cfg.GlobalThreshold))
	if err != nil {
		return RejectNone, err
	}
	if !ok {
		return RejectDuplicate, nil
	}

	b.accepted = append(b.accepted, vec)
	b.seen[text] = struct{}{}

	if g.snapshot != nil {
		if err := g.snapshot.Append(ctx, entry); err != nil {
			g.logger.Warn(ctx, "Failed to snapshot index entry", map[string]interface{}{
				"error":    err.Error(),
				"entry_id": entry.ID,
			})
		}
	}
	return RejectNone, nil
}
