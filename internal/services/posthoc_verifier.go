package services

import (
	"context"
	"sync"
	"time"

	"mcqgen/internal/config"
	"mcqgen/internal/observability"
	contextutils "mcqgen/internal/utils"

	"go.opentelemetry.io/otel/attribute"
)

// SweepReport counts what one quiz sweep changed
type SweepReport struct {
	QuizID     string `json:"quiz_id"`
	Verified   int    `json:"verified"`
	Overridden int    `json:"overridden"`
	// Pending counts items the judge could not settle; they stay unverified
	// and are picked up again by the next sweep.
	Pending int `json:"pending"`
}

// PostHocVerifier re-judges every unverified item of a persisted quiz and
// records the judge's answer for each item it can settle.
type PostHocVerifier struct {
	quizzes  QuizStore
	verifier *Verifier
	delay    time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *observability.Logger

	wg         sync.WaitGroup
	baseCtx    context.Context
	cancelBase context.CancelFunc
}

// NewPostHocVerifier builds a sweeper that waits delay between judge calls
func NewPostHocVerifier(quizzes QuizStore, verifier *Verifier, delay time.Duration, logger *observability.Logger) *PostHocVerifier {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &PostHocVerifier{
		quizzes:    quizzes,
		verifier:   verifier,
		delay:      delay,
		sleep:      sleepContext,
		logger:     logger,
		baseCtx:    baseCtx,
		cancelBase: cancel,
	}
}

// VerifyQuiz sweeps one quiz. Items already verified are skipped and items the
// judge cannot settle are left unverified. The quiz is written back once, and
// only if something changed.
func (p *PostHocVerifier) VerifyQuiz(ctx context.Context, quizID string) (result0 SweepReport, err error) {
	ctx, span := observability.TraceWorkerFunction(ctx, "verify_quiz", observability.AttributeQuizID(quizID))
	defer observability.FinishSpan(span, &err)

	report := SweepReport{QuizID: quizID}
	quiz, err := p.quizzes.Get(ctx, quizID)
	if err != nil {
		return report, err
	}

	items := quiz.Items
	last := len(items) - 1
	for i := range items {
		if ctx.Err() != nil {
			break
		}
		if items[i].Answer.IsVerified() {
			continue
		}
		it := items[i]
		verdict := p.verifier.Verify(ctx, it.Question, it.Options, it.Answer.Claimed())
		if verdict.Outcome == Undetermined && ctx.Err() != nil {
			// a cancelled call says nothing about the item
			break
		}
		if verdict.Outcome == Undetermined {
			report.Pending++
			p.logger.Warn(ctx, "Judge could not settle item, leaving it for the next sweep", map[string]interface{}{
				"quiz_id":  quizID,
				"question": it.Question,
			})
		} else {
			items[i] = Apply(it, verdict)
			report.Verified++
		}
		if verdict.Outcome == Overridden {
			report.Overridden++
			p.logger.Info(ctx, "Answer overridden by judge", map[string]interface{}{
				"quiz_id":  quizID,
				"question": it.Question,
				"claimed":  it.Answer.Claimed(),
				"verified": verdict.Letter,
			})
		}
		if i < last {
			if err := p.sleep(ctx, p.delay); err != nil {
				break
			}
		}
	}

	span.SetAttributes(
		attribute.Int("items.verified", report.Verified),
		attribute.Int("items.overridden", report.Overridden),
		attribute.Int("items.pending", report.Pending),
	)
	if report.Verified == 0 {
		return report, nil
	}
	if err := p.quizzes.ReplaceItems(context.WithoutCancel(ctx), quizID, items); err != nil {
		return report, contextutils.WrapErrorf(err, "failed to write verified items for quiz %s", quizID)
	}
	p.logger.Info(ctx, "Quiz verified", map[string]interface{}{
		"quiz_id":    quizID,
		"verified":   report.Verified,
		"overridden": report.Overridden,
		"pending":    report.Pending,
	})
	return report, nil
}

// Dispatch sweeps quizID in a tracked goroutine detached from any request
func (p *PostHocVerifier) Dispatch(quizID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(p.baseCtx, config.AIRequestTimeout*10)
		defer cancel()
		if _, err := p.VerifyQuiz(ctx, quizID); err != nil {
			p.logger.Error(ctx, "Background verification failed", err, map[string]interface{}{"quiz_id": quizID})
		}
	}()
}

// Shutdown waits for in-flight sweeps; when ctx expires first they are cancelled
func (p *PostHocVerifier) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancelBase()
		return nil
	case <-ctx.Done():
		p.cancelBase()
		<-done
		return ctx.Err()
	}
}
