package services

import (
	"context"
	"errors"
	"testing"

	"mcqgen/internal/observability"
	"mcqgen/internal/similarity"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSnapshot struct {
	entries []similarity.Entry
	err     error
}

func (r *recordingSnapshot) Append(_ context.Context, entries ...similarity.Entry) error {
	r.entries = append(r.entries, entries...)
	return r.err
}

func newTestGate(emb Embedder, index similarity.Index, snap SnapshotAppender) (*DedupGate, *observability.GenerationMetrics) {
	metrics := observability.NewGenerationMetrics()
	return NewDedupGate(emb, index, snap, testDedupConfig(), metrics, testLogger()), metrics
}

func TestDedupBatch_Admit(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts a new item and indexes it", func(t *testing.T) {
		index := similarity.NewMemoryIndex(0)
		snap := &recordingSnapshot{}
		gate, _ := newTestGate(newBasisEmbedder(), index, snap)

		reason, err := gate.NewBatch(nil, nil).Admit(ctx, testItem("What does the ribosome build", "A"))
		require.NoError(t, err)
		assert.Equal(t, RejectNone, reason)
		assert.Equal(t, 1, index.Size())
		require.Len(t, snap.entries, 1)
		assert.Equal(t, "What does the ribosome build", snap.entries[0].Meta.Question)
		assert.Equal(t, "A", snap.entries[0].Meta.Answer)
	})

	t.Run("rejects malformed items", func(t *testing.T) {
		gate, metrics := newTestGate(newBasisEmbedder(), similarity.NewMemoryIndex(0), nil)
		item := testItem("What does the ribosome build", "A")
		delete(item.Options, "E")

		reason, err := gate.NewBatch(nil, nil).Admit(ctx, item)
		require.NoError(t, err)
		assert.Equal(t, RejectInvalid, reason)
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ItemsRejected.WithLabelValues(string(RejectInvalid))))
	})

	t.Run("rejects text already in the quiz", func(t *testing.T) {
		gate, _ := newTestGate(newBasisEmbedder(), similarity.NewMemoryIndex(0), nil)

		reason, err := gate.NewBatch([]string{"What does the ribosome build"}, nil).Admit(ctx, testItem("What does the ribosome build", "A"))
		require.NoError(t, err)
		assert.Equal(t, RejectRepeat, reason)
	})

	t.Run("rejects text similar to history", func(t *testing.T) {
		emb := newBasisEmbedder()
		emb.aliases["Which structure builds proteins"] = "What does the ribosome build"
		gate, _ := newTestGate(emb, similarity.NewMemoryIndex(0), nil)

		history, err := gate.HistoryVectors(ctx, []string{"What does the ribosome build"})
		require.NoError(t, err)

		reason, err := gate.NewBatch(nil, history).Admit(ctx, testItem("Which structure builds proteins", "A"))
		require.NoError(t, err)
		assert.Equal(t, RejectHistory, reason)
	})

	t.Run("rejects near duplicates within the batch", func(t *testing.T) {
		emb := newBasisEmbedder()
		emb.aliases["Which structure builds proteins"] = "What does the ribosome build"
		gate, _ := newTestGate(emb, similarity.NewMemoryIndex(0), nil)
		batch := gate.NewBatch(nil, nil)

		reason, err := batch.Admit(ctx, testItem("What does the ribosome build", "A"))
		require.NoError(t, err)
		require.Equal(t, RejectNone, reason)

		reason, err = batch.Admit(ctx, testItem("Which structure builds proteins", "A"))
		require.NoError(t, err)
		assert.Equal(t, RejectBatch, reason)
	})

	t.Run("rejects global duplicates from earlier batches", func(t *testing.T) {
		emb := newBasisEmbedder()
		emb.aliases["Which structure builds proteins"] = "What does the ribosome build"
		index := similarity.NewMemoryIndex(0)
		gate, _ := newTestGate(emb, index, nil)

		reason, err := gate.NewBatch(nil, nil).Admit(ctx, testItem("What does the ribosome build", "A"))
		require.NoError(t, err)
		require.Equal(t, RejectNone, reason)

		reason, err = gate.NewBatch(nil, nil).Admit(ctx, testItem("Which structure builds proteins", "A"))
		require.NoError(t, err)
		assert.Equal(t, RejectDuplicate, reason)
		assert.Equal(t, 1, index.Size())
	})

	t.Run("distinct items all pass", func(t *testing.T) {
		index := similarity.NewMemoryIndex(0)
		gate, _ := newTestGate(newBasisEmbedder(), index, nil)
		batch := gate.NewBatch(nil, nil)
		for _, q := range []string{"What does the ribosome build", "Where is DNA stored", "What pumps blood"} {
			reason, err := batch.Admit(ctx, testItem(q, "A"))
			require.NoError(t, err)
			assert.Equal(t, RejectNone, reason, q)
		}
		assert.Equal(t, 3, index.Size())
	})

	t.Run("embedder failure is an error", func(t *testing.T) {
		emb := newBasisEmbedder()
		emb.fail = errors.New("embedding backend down")
		gate, _ := newTestGate(emb, similarity.NewMemoryIndex(0), nil)

		_, err := gate.NewBatch(nil, nil).Admit(ctx, testItem("What does the ribosome build", "A"))
		assert.Error(t, err)
	})

	t.Run("snapshot failure does not reject", func(t *testing.T) {
		index := similarity.NewMemoryIndex(0)
		gate, _ := newTestGate(newBasisEmbedder(), index, &recordingSnapshot{err: errors.New("redis down")})

		reason, err := gate.NewBatch(nil, nil).Admit(ctx, testItem("What does the ribosome build", "A"))
		require.NoError(t, err)
		assert.Equal(t, RejectNone, reason)
		assert.Equal(t, 1, index.Size())
	})
}

func TestDedupGate_HistoryVectorsEmpty(t *testing.T) {
	gate, _ := newTestGate(newBasisEmbedder(), similarity.NewMemoryIndex(0), nil)
	vecs, err := gate.HistoryVectors(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}
