package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mcqgen/internal/models"
	contextutils "mcqgen/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fixedCounter struct {
	n   int
	err error
}

func (f fixedCounter) CountTokens(context.Context, string) (int, error) { return f.n, f.err }

func newTestGenerator(t *testing.T, oracle CompletionOracle, tokens TokenCounter) *Generator {
	t.Helper()
	templates, err := NewPromptTemplateManager()
	require.NoError(t, err)
	return NewGenerator(oracle, tokens, templates, testGenerationConfig(), testLogger())
}

func TestGenerator_BuildPrompt(t *testing.T) {
	g := newTestGenerator(t, nil, nil)

	t.Run("standard prompt", func(t *testing.T) {
		prompt, err := g.BuildPrompt(GenerationRequest{Count: 5, Difficulty: models.DifficultyEasy})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(prompt, "<s>[INST] Generate 5 **easy** level multiple-choice biology questions."))
		assert.True(t, strings.HasSuffix(prompt, "Do not include explanations, numbering, answer keys, or extra text. [/INST]"))
		assert.NotContains(t, prompt, "IRT Theta")
		assert.NotContains(t, prompt, "topic")
		assert.Contains(t, prompt, "Correct Answer: <A/B/C/D/E>")
	})

	t.Run("single question is not pluralised", func(t *testing.T) {
		prompt, err := g.BuildPrompt(GenerationRequest{Count: 1, Difficulty: models.DifficultyHard})
		require.NoError(t, err)
		assert.Contains(t, prompt, "Generate 1 **hard** level multiple-choice biology question.")
	})

	t.Run("adaptive prompt carries theta", func(t *testing.T) {
		theta := -0.75
		prompt, err := g.BuildPrompt(GenerationRequest{Count: 3, Difficulty: models.DifficultyMedium, Theta: &theta})
		require.NoError(t, err)
		assert.Contains(t, prompt, "**User's Estimated Ability Level (IRT Theta):** -0.75")
	})

	t.Run("topic prompt names the topic", func(t *testing.T) {
		prompt, err := g.BuildPrompt(GenerationRequest{Count: 2, Difficulty: models.DifficultyEasy, Topic: "cell membrane"})
		require.NoError(t, err)
		assert.Contains(t, prompt, "Generate 2 **easy** level multiple-choice biology questions.\nEvery question must be about the topic **cell membrane**.\n")
	})

	t.Run("context block", func(t *testing.T) {
		prompt, err := g.BuildPrompt(GenerationRequest{
			Count:      2,
			Difficulty: models.DifficultyMedium,
			Context: []ContextItem{
				{Question: "Where is DNA stored", Answer: "C"},
				{Question: "What pumps blood", Answer: "A"},
			},
		})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(prompt, "<s>[INST] Generate a **medium** level MCQ that is **different** from these:"))
		assert.Contains(t, prompt, "- Where is DNA stored (Correct Answer: C)\n- What pumps blood (Correct Answer: A)\n")
		assert.Contains(t, prompt, "**Follow This Format exactly:**\nGenerate 2 **medium** level")
	})
}

func TestGenerator_Budget(t *testing.T) {
	ctx := context.Background()

	t.Run("capped at the completion maximum", func(t *testing.T) {
		budget, err := newTestGenerator(t, nil, fixedCounter{n: 100}).Budget(ctx, "prompt")
		require.NoError(t, err)
		assert.Equal(t, 768, budget)
	})

	t.Run("shrinks with a long prompt", func(t *testing.T) {
		budget, err := newTestGenerator(t, nil, fixedCounter{n: 1800}).Budget(ctx, "prompt")
		require.NoError(t, err)
		assert.Equal(t, 2048-1800-10, budget)
	})

	t.Run("too long", func(t *testing.T) {
		_, err := newTestGenerator(t, nil, fixedCounter{n: 2038}).Budget(ctx, "prompt")
		assert.True(t, contextutils.IsError(err, contextutils.ErrPromptTooLong))
	})

	t.Run("counter failure falls back to estimate", func(t *testing.T) {
		budget, err := newTestGenerator(t, nil, fixedCounter{err: errors.New("tokenizer down")}).Budget(ctx, strings.Repeat("a", 400))
		require.NoError(t, err)
		assert.Equal(t, 768, budget)
	})
}

func TestGenerator_Generate(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Complete", mock.Anything, mock.MatchedBy(func(req CompletionRequest) bool {
		return req.MaxTokens == 768 && req.Temperature == 0.8 && req.TopP == 0.95 && strings.Contains(req.Prompt, "**easy**")
	})).Return("reply", nil).Once()

	res, err := newTestGenerator(t, oracle, fixedCounter{n: 50}).Generate(context.Background(), GenerationRequest{Count: 5, Difficulty: models.DifficultyEasy})
	require.NoError(t, err)
	assert.Equal(t, "reply", res.Text)
	assert.NotEmpty(t, res.Prompt)
	oracle.AssertExpectations(t)
}

func TestGenerator_GenerateKeepsPromptOnFailure(t *testing.T) {
	oracle := &mockOracle{}
	oracle.On("Complete", mock.Anything, mock.Anything).Return("", contextutils.ErrAIProviderUnavailable).Once()

	res, err := newTestGenerator(t, oracle, nil).Generate(context.Background(), GenerationRequest{Count: 5, Difficulty: models.DifficultyEasy})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Contains(t, res.Prompt, "[INST]")
}

func TestGenerator_CompleteWithoutOracle(t *testing.T) {
	_, err := newTestGenerator(t, nil, nil).CompleteWith(context.Background(), nil, "prompt")
	assert.True(t, contextutils.IsError(err, contextutils.ErrAIConfigInvalid))
}
