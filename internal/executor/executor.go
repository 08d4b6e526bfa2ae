package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/notify"
)

// Submitter submits a plan and delivers the outcome once.
type Submitter interface {
	Submit(ctx context.Context, plan domain.ArbitragePlan, tokenAIn decimal.Decimal) <-chan Result
}

// Publisher fans opportunity and execution events out to other processes.
type Publisher interface {
	PublishOpportunity(ctx context.Context, opp domain.Opportunity) error
	PublishExecution(ctx context.Context, rec domain.ExecutionRecord) error
	PublishConfirmation(ctx context.Context, c domain.Confirmation) error
}

// Notifier sends operator alerts filtered by event type.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder counts executor outcomes.
type Recorder interface {
	OpportunityFound(venue string)
	Submission(venue, outcome string)
	Confirmation(kind string)
}

// Config tunes the executor guards.
type Config struct {
	// DedupTTL is how long a trigger key is remembered.
	DedupTTL time.Duration
	// LockTTL bounds the distributed lock held around one submission.
	LockTTL time.Duration
	// MaxSubmissions per SubmissionWindow; zero disables the limit.
	MaxSubmissions   int
	SubmissionWindow time.Duration
	// DryRun records and publishes opportunities but never submits.
	DryRun bool
	// CleanupInterval is how often expired dedup keys are dropped.
	CleanupInterval time.Duration
}

// Executor receives opportunities from the venues, guards against replays
// and bursts, submits through the pipeline and records every outcome.
// Persistence, publishing, notification and metrics are optional; unset
// collaborators are skipped.
type Executor struct {
	submitter Submitter
	cfg       Config
	dedup     *Dedup
	logger    *slog.Logger

	lock    domain.LockManager
	limiter domain.RateLimiter

	opportunities domain.OpportunityStore
	executions    domain.ExecutionStore
	publisher     Publisher
	notifier      Notifier
	metrics       Recorder
}

// NewExecutor creates an Executor that submits through submitter.
func NewExecutor(submitter Submitter, cfg Config, logger *slog.Logger) *Executor {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = 2 * time.Minute
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	return &Executor{
		submitter: submitter,
		cfg:       cfg,
		dedup:     NewDedup(cfg.DedupTTL),
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// SetGuards enables the distributed trigger lock and the submission rate
// limit. Either may be nil.
func (e *Executor) SetGuards(lock domain.LockManager, limiter domain.RateLimiter) {
	e.lock = lock
	e.limiter = limiter
}

// SetStores enables persistence of opportunities and executions.
func (e *Executor) SetStores(opportunities domain.OpportunityStore, executions domain.ExecutionStore) {
	e.opportunities = opportunities
	e.executions = executions
}

// SetPublisher enables event fan-out.
func (e *Executor) SetPublisher(p Publisher) {
	e.publisher = p
}

// SetNotifier enables operator alerts.
func (e *Executor) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetMetrics enables outcome counters.
func (e *Executor) SetMetrics(r Recorder) {
	e.metrics = r
}

// DryRun reports whether submissions are suppressed.
func (e *Executor) DryRun() bool {
	return e.cfg.DryRun
}

// Run drops expired dedup keys until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started", slog.Bool("dry_run", e.cfg.DryRun))
	defer e.logger.Info("executor stopped")

	ticker := time.NewTicker(e.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := e.dedup.Cleanup(); n > 0 {
				e.logger.Debug("dedup cleanup", slog.Int("removed", n))
			}
		}
	}
}

// Handle processes one opportunity to completion: validation, dedup,
// recording, guards, submission. It returns the submission error, if any;
// a skipped opportunity returns nil or one of domain.ErrRateLimited.
func (e *Executor) Handle(ctx context.Context, opp *domain.Opportunity) error {
	if opp == nil {
		return nil
	}
	log := e.logger.With(
		slog.String("opportunity", opp.ID()),
		slog.String("venue", opp.Venue),
	)

	if err := opp.Plan.Validate(); err != nil {
		log.Warn("invalid opportunity, dropping", slog.String("error", err.Error()))
		return nil
	}
	if e.dedup.Seen(opp.ID()) {
		log.Debug("trigger already handled, skipping")
		return nil
	}

	e.logOpportunity(log, opp)
	if e.metrics != nil {
		e.metrics.OpportunityFound(opp.Venue)
	}
	if e.opportunities != nil {
		if err := e.opportunities.Insert(ctx, *opp); err != nil {
			log.Warn("opportunity record failed", slog.String("error", err.Error()))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishOpportunity(ctx, *opp); err != nil {
			log.Warn("opportunity publish failed", slog.String("error", err.Error()))
		}
	}
	e.notify(ctx, notify.EventOpportunity, "Arbitrage opportunity", notify.FormatOpportunity(*opp))

	if e.cfg.DryRun {
		log.Info("dry run, not submitting")
		return nil
	}

	if e.limiter != nil && e.cfg.MaxSubmissions > 0 {
		ok, err := e.limiter.Allow(ctx, "submit", e.cfg.MaxSubmissions, e.cfg.SubmissionWindow)
		if err != nil {
			log.Error("rate limiter unavailable, not submitting", slog.String("error", err.Error()))
			return fmt.Errorf("executor: rate limit: %w", err)
		}
		if !ok {
			log.Warn("submission rate limit reached, skipping")
			e.countSubmission(opp.Venue, "rate_limited")
			return domain.ErrRateLimited
		}
	}

	if e.lock != nil {
		unlock, err := e.lock.Acquire(ctx, "exec:"+opp.ID(), e.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			log.Debug("trigger locked by another replica, skipping")
			return nil
		}
		if err != nil {
			log.Error("trigger lock failed, not submitting", slog.String("error", err.Error()))
			return fmt.Errorf("executor: lock: %w", err)
		}
		defer unlock()
	}

	res := <-e.submitter.Submit(ctx, opp.Plan, opp.TokenAIn)

	rec := domain.ExecutionRecord{
		ID:            uuid.NewString(),
		OpportunityID: opp.ID(),
		Venue:         opp.Venue,
		SubmittedAt:   time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Status = domain.ExecFailed
		rec.Error = res.Err.Error()
	} else {
		rec.Status = domain.ExecSubmitted
		rec.TxHash = res.Tx.Hash().Hex()
		rec.Nonce = res.Nonce
	}
	e.recordExecution(ctx, log, rec)

	if res.Err != nil {
		e.notify(ctx, notify.EventError, "Submission failed", notify.FormatExecution(rec))
		return res.Err
	}
	e.notify(ctx, notify.EventSubmitted, "Flash loan submitted", notify.FormatExecution(rec))
	return nil
}

// HandleConfirmation records one contract confirmation event. Undecodable
// logs are logged and dropped.
func (e *Executor) HandleConfirmation(ctx context.Context, lg types.Log) {
	c, err := DecodeConfirmation(lg)
	if err != nil {
		e.logger.Warn("undecodable confirmation", slog.String("tx", lg.TxHash.Hex()), slog.String("error", err.Error()))
		return
	}
	log := e.logger.With(
		slog.String("event", string(c.Kind)),
		slog.Uint64("execution_id", uint64(c.ExecutionID)),
		slog.String("tx", c.TxHash.Hex()),
	)

	switch c.Kind {
	case domain.ConfirmArbitrageConcluded:
		log.Info("arbitrage concluded",
			slog.String("input", c.InputAmount.String()),
			slog.String("swap1_out", c.Swap1AmountOut.String()),
			slog.String("swap2_out", c.Swap2AmountOut.String()),
			slog.String("swap3_out", c.Swap3AmountOut.String()),
			slog.String("profit", c.Profit.String()),
		)
	case domain.ConfirmFlashLoanSuccess:
		log.Info("flash loan repaid", slog.String("amount", c.Amount.String()))
	case domain.ConfirmFlashLoanError:
		log.Error("flash loan failed on-chain", slog.String("message", c.Message))
	}

	if e.metrics != nil {
		e.metrics.Confirmation(string(c.Kind))
	}
	if e.executions != nil {
		if err := e.executions.RecordConfirmation(ctx, c); err != nil {
			log.Warn("confirmation record failed", slog.String("error", err.Error()))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishConfirmation(ctx, c); err != nil {
			log.Warn("confirmation publish failed", slog.String("error", err.Error()))
		}
	}

	switch c.Kind {
	case domain.ConfirmArbitrageConcluded:
		e.notify(ctx, notify.EventConcluded, "Arbitrage concluded", notify.FormatConfirmation(c))
	case domain.ConfirmFlashLoanError:
		e.notify(ctx, notify.EventFlashLoanError, "Flash loan error", notify.FormatConfirmation(c))
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (e *Executor) logOpportunity(log *slog.Logger, opp *domain.Opportunity) {
	legs := opp.Plan.Legs()
	pools := make([]string, 0, len(legs))
	tiers := make([]string, 0, len(legs))
	for _, l := range legs {
		pools = append(pools, l.Pool)
		tiers = append(tiers, fmt.Sprintf("%d", l.FeeTier))
	}
	profit := "n/a"
	if opp.ExpectedProfit != nil {
		profit = opp.ExpectedProfit.String()
	}
	log.Info("opportunity found",
		slog.String("cycle", opp.Plan.String()),
		slog.String("pools", strings.Join(pools, ",")),
		slog.String("fee_tiers", strings.Join(tiers, ",")),
		slog.String("token_a_in", opp.TokenAIn.String()),
		slog.String("impact_bps", opp.PriceImpactBps.String()),
		slog.String("expected_profit", profit),
	)
}

func (e *Executor) recordExecution(ctx context.Context, log *slog.Logger, rec domain.ExecutionRecord) {
	e.countSubmission(rec.Venue, string(rec.Status))
	if e.executions != nil {
		if err := e.executions.Create(ctx, rec); err != nil {
			log.Warn("execution record failed", slog.String("error", err.Error()))
		}
	}
	if e.publisher != nil {
		if err := e.publisher.PublishExecution(ctx, rec); err != nil {
			log.Warn("execution publish failed", slog.String("error", err.Error()))
		}
	}
}

func (e *Executor) countSubmission(venue, outcome string) {
	if e.metrics != nil {
		e.metrics.Submission(venue, outcome)
	}
}

func (e *Executor) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.Warn("notification failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}
