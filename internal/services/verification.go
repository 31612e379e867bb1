package services

import (
	"context"
	"strings"
	"time"

	"mcqgen/internal/models"
	"mcqgen/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

// VerificationOutcome classifies a judge's reply against the claimed answer
type VerificationOutcome string

const (
	// Confirmed means the judge picked the claimed letter
	Confirmed VerificationOutcome = "confirmed"
	// Overridden means the judge picked a different valid letter, which wins
	Overridden VerificationOutcome = "overridden"
	// Undetermined means no usable reply was obtained
	Undetermined VerificationOutcome = "undetermined"
)

// Verification is the judge's verdict on one item
type Verification struct {
	Outcome VerificationOutcome
	// Letter is the judge's choice; empty when undetermined
	Letter  string
	Claimed string
}

// Verifier asks a judge oracle which option is correct
type Verifier struct {
	oracle    CompletionOracle
	templates *PromptTemplateManager
	backoff   time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
	metrics   *observability.GenerationMetrics
	logger    *observability.Logger
}

// NewVerifier builds a verifier. A nil oracle makes every verdict undetermined.
func NewVerifier(oracle CompletionOracle, templates *PromptTemplateManager, backoff time.Duration, metrics *observability.GenerationMetrics, logger *observability.Logger) *Verifier {
	return &Verifier{
		oracle:    oracle,
		templates: templates,
		backoff:   backoff,
		sleep:     sleepContext,
		metrics:   metrics,
		logger:    logger,
	}
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Verify asks the judge for a single letter. A rate-limit reply is retried
// exactly once after the backoff; any other failure is undetermined.
func (v *Verifier) Verify(ctx context.Context, question string, options models.Options, claimed string) (result0 Verification) {
	ctx, span := observability.TraceOracleFunction(ctx, "verify_item", attribute.String("claimed", claimed))
	defer func() {
		span.SetAttributes(attribute.String("verification.outcome", string(result0.Outcome)))
		if v.metrics != nil {
			v.metrics.VerificationResult.WithLabelValues(string(result0.Outcome)).Inc()
		}
		span.End()
	}()

	undetermined := Verification{Outcome: Undetermined, Claimed: claimed}
	if v.oracle == nil {
		return undetermined
	}

	prompt, err := v.templates.RenderVerificationPrompt(question, options)
	if err != nil {
		v.logger.Error(ctx, "Failed to render verification prompt", err)
		return undetermined
	}

	reply, err := v.oracle.Complete(ctx, CompletionRequest{Prompt: prompt})
	if err != nil && IsRateLimited(err) {
		v.logger.Warn(ctx, "Judge rate limited, retrying after backoff", map[string]interface{}{
			"backoff": v.backoff.String(),
		})
		if serr := v.sleep(ctx, v.backoff); serr != nil {
			return undetermined
		}
		reply, err = v.oracle.Complete(ctx, CompletionRequest{Prompt: prompt})
	}
	if err != nil {
		v.logger.Error(ctx, "Judge call failed", err, map[string]interface{}{"provider": v.oracle.Name()})
		return undetermined
	}

	letter := firstLetter(reply)
	if !options.Has(letter) {
		return undetermined
	}
	if letter == claimed {
		return Verification{Outcome: Confirmed, Letter: letter, Claimed: claimed}
	}
	return Verification{Outcome: Overridden, Letter: letter, Claimed: claimed}
}

// firstLetter returns the first character of the upper-cased, trimmed reply
func firstLetter(reply string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(reply))
	if trimmed == "" {
		return ""
	}
	return string([]rune(trimmed)[0])
}

// Apply folds a verdict into item. Undetermined leaves the item unverified.
func Apply(item models.Item, v Verification) models.Item {
	claimed := item.Answer.Claimed()
	switch v.Outcome {
	case Confirmed:
		item.Answer = models.Verified(claimed, claimed)
	case Overridden:
		item.Answer = models.Verified(claimed, v.Letter)
	}
	return item
}
