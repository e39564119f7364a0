package logic

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/patrickwarner/modserve/internal/logic/textutil"
	"github.com/patrickwarner/modserve/internal/logic/tiers"
	"github.com/patrickwarner/modserve/internal/middleware"
	"github.com/patrickwarner/modserve/internal/models"
	"github.com/patrickwarner/modserve/internal/observability"
)

// Enqueuer persists submissions that need human review.
type Enqueuer interface {
	Enqueue(ctx context.Context, item models.QueueItem) (string, error)
}

// DecisionRecorder stores an audit event for each production decision.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, sub models.Submission, d models.Decision) error
}

// AlertPublisher notifies administrators of Tier 3 breaches.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert models.Alert) error
}

// Aggregator runs the tier sequence for a submission and turns the results
// into a single Decision. Every collaborator is optional; a missing Links or
// Classifier degrades the corresponding tier.
type Aggregator struct {
	Links      *tiers.LinkChecker
	Classifier *tiers.Classifier
	Queue      Enqueuer
	Recorders  []DecisionRecorder
	Alerts     AlertPublisher
	Metrics    observability.MetricsRegistry
	Logger     *zap.Logger
}

func (a *Aggregator) metrics() observability.MetricsRegistry {
	if a.Metrics == nil {
		return observability.NewNoOpRegistry()
	}
	return a.Metrics
}

func (a *Aggregator) logger(ctx context.Context) *zap.Logger {
	base := a.Logger
	if base == nil {
		base = zap.NewNop()
	}
	return middleware.LoggerFromContext(ctx, base)
}

// Evaluate runs the tiers against cfg without enqueueing, alerting or
// auditing. It backs the admin dry-run.
func (a *Aggregator) Evaluate(ctx context.Context, sub models.Submission, cfg models.ModerationConfig) models.Decision {
	d, _ := a.evaluate(ctx, sub, cfg)
	return d
}

// Moderate evaluates sub and performs the side effects of the decision:
// review and flag outcomes are enqueued, Tier 3 breaches alert admins when
// configured, and the decision is recorded for audit. The returned Decision
// is always usable; a non-nil error reports a failed enqueue or a cancelled
// caller.
func (a *Aggregator) Moderate(ctx context.Context, sub models.Submission, cfg models.ModerationConfig) (models.Decision, error) {
	d, trace := a.evaluate(ctx, sub, cfg)
	logger := a.logger(ctx)

	// the caller went away; nothing has been persisted yet
	if err := ctx.Err(); err != nil {
		return d, err
	}

	var enqueueErr error
	if d.Action == models.ActionReview || d.Action == models.ActionFlag {
		if a.Queue == nil {
			enqueueErr = ErrNilQueue
		} else {
			id, err := a.Queue.Enqueue(ctx, BuildQueueItem(sub, d, trace))
			if err != nil {
				enqueueErr = fmt.Errorf("enqueue review item: %w", err)
			} else {
				d.QueueItemID = id
				a.metrics().IncrementEnqueued(string(d.Priority))
			}
		}
		if enqueueErr != nil {
			logger.Error("failed to enqueue submission", zap.String("workflow", sub.Workflow), zap.Error(enqueueErr))
		}
	}

	if t3, ok := trace.Result(models.Tier3); ok && cfg.Tier3.NotifyAdmins && t3.Passed != nil && !*t3.Passed && a.Alerts != nil {
		alert := models.Alert{
			QueueItemID: d.QueueItemID,
			Workflow:    sub.Workflow,
			UserID:      sub.UserID,
			Action:      d.Action,
			Priority:    d.Priority,
			Categories:  t3.Checks.Categories,
			CreatedAt:   time.Now().UTC(),
		}
		if err := a.Alerts.PublishAlert(ctx, alert); err != nil {
			logger.Warn("failed to publish admin alert", zap.Error(err))
		}
	}

	for _, rec := range a.Recorders {
		if err := rec.RecordDecision(ctx, sub, d); err != nil {
			logger.Warn("failed to record decision event", zap.Error(err))
		}
	}

	a.metrics().IncrementDecisions(string(d.Action), d.Reason)
	if d.Action != models.ActionAllow || observability.ShouldSample(observability.GetSamplingRate()) {
		logger.Info("moderation decision",
			zap.String("workflow", sub.Workflow),
			zap.String("action", string(d.Action)),
			zap.String("reason", d.Reason),
			zap.String("priority", string(d.Priority)),
			zap.String("queue_item_id", d.QueueItemID),
			zap.Int("tiers_evaluated", len(trace.Evaluated())),
		)
	}
	return d, enqueueErr
}

func (a *Aggregator) evaluate(ctx context.Context, sub models.Submission, cfg models.ModerationConfig) (models.Decision, *TierTrace) {
	ctx, span := observability.Tracer("moderation").Start(ctx, "moderate")
	defer span.End()
	span.SetAttributes(attribute.String("workflow", sub.Workflow))

	trace := &TierTrace{}

	if !cfg.Enabled {
		skipAll(trace, "Moderation is disabled")
		return models.Decision{Allowed: true, Action: models.ActionAllow, Reason: models.ReasonDisabled, TierFlow: trace.Steps}, trace
	}

	wf, known := cfg.Workflows[sub.Workflow]
	if !known {
		// unknown workflows get every tier
		wf = models.WorkflowConfig{Enabled: true, Tier1: true, Tier2: true, Tier3: true}
	}
	if !wf.Enabled {
		skipAll(trace, fmt.Sprintf("Workflow %q is disabled", sub.Workflow))
		return models.Decision{Allowed: true, Action: models.ActionAllow, Reason: models.ReasonWorkflowDisabled, TierFlow: trace.Steps}, trace
	}

	var blockedBy models.Tier
	for _, tier := range models.Tiers {
		if blockedBy != "" {
			trace.Skip(tier, fmt.Sprintf("Not evaluated: blocked by %s", models.TierNames[blockedBy]))
			continue
		}
		if ok, why := applicable(tier, cfg, wf); !ok {
			trace.Skip(tier, why)
			continue
		}

		start := time.Now()
		res := a.runTier(ctx, tier, sub.Text, cfg)
		took := time.Since(start)
		a.metrics().RecordTier(string(tier), string(res.Action), res.Degraded, took)
		trace.Add(res, took)

		if res.Action == models.ActionBlock {
			blockedBy = tier
		}
	}

	d := decide(trace.Steps)
	span.SetAttributes(
		attribute.String("action", string(d.Action)),
		attribute.String("reason", d.Reason),
	)
	for tier, took := range trace.Timings {
		span.SetAttributes(attribute.Int64(string(tier)+".duration_ms", took.Milliseconds()))
	}
	return d, trace
}

// runTier dispatches one tier to its evaluator.
func (a *Aggregator) runTier(ctx context.Context, tier models.Tier, content string, cfg models.ModerationConfig) models.TierResult {
	ctx, span := observability.Tracer("moderation").Start(ctx, string(tier))
	defer span.End()

	switch tier {
	case models.Tier1:
		return tiers.EvaluateBlocklist(content, cfg.Tier1)
	case models.TierSecurity:
		return tiers.ScanSecurity(content)
	case models.Tier2:
		links := a.Links
		if links == nil {
			links = &tiers.LinkChecker{Logger: a.Logger}
		}
		return links.Evaluate(ctx, content, cfg.Tier2)
	case models.Tier3:
		cls := a.Classifier
		if cls == nil {
			cls = &tiers.Classifier{Logger: a.Logger}
		}
		return cls.Evaluate(ctx, content, cfg.Tier3)
	}
	return models.TierResult{Tier: tier, Action: models.ActionSkip, Message: "unknown tier"}
}

// applicable reports whether tier runs under cfg for workflow wf, and why not
// when it does not. The security scan follows the workflow's Tier 1 flag but
// ignores the global Tier 1 switch.
func applicable(tier models.Tier, cfg models.ModerationConfig, wf models.WorkflowConfig) (bool, string) {
	switch tier {
	case models.Tier1:
		if !cfg.Tier1.Enabled {
			return false, "Tier disabled"
		}
		if !wf.Tier1 {
			return false, "Not included in workflow"
		}
	case models.TierSecurity:
		if !wf.Tier1 {
			return false, "Not included in workflow"
		}
	case models.Tier2:
		if !cfg.Tier2.Enabled {
			return false, "Tier disabled"
		}
		if !wf.Tier2 {
			return false, "Not included in workflow"
		}
	case models.Tier3:
		if !cfg.Tier3.Enabled {
			return false, "Tier disabled"
		}
		if !wf.Tier3 {
			return false, "Not included in workflow"
		}
	}
	return true, ""
}

func skipAll(trace *TierTrace, message string) {
	for _, tier := range models.Tiers {
		trace.Skip(tier, message)
	}
}

var actionRank = map[models.Action]int{
	models.ActionAllow:  0,
	models.ActionSkip:   0,
	models.ActionFlag:   1,
	models.ActionReview: 2,
	models.ActionBlock:  3,
}

// decide folds evaluated tier results into the final decision. The most
// severe action wins (block, review, flag, allow); ties go to the earlier
// tier.
func decide(steps []models.TierResult) models.Decision {
	d := models.Decision{Action: models.ActionAllow, Reason: models.ReasonPassed, TierFlow: steps}

	decisive := -1
	for i, s := range steps {
		if !s.Evaluated {
			continue
		}
		if actionRank[s.Action] > actionRank[d.Action] {
			d.Action = s.Action
			decisive = i
		}
	}
	d.Allowed = d.Action == models.ActionAllow || d.Action == models.ActionFlag
	if decisive < 0 {
		return d
	}
	d.Reason = reasonFor(steps[decisive])
	if d.Action == models.ActionReview || d.Action == models.ActionFlag {
		d.Priority = priorityFor(steps)
	}
	return d
}

func reasonFor(res models.TierResult) string {
	switch res.Tier {
	case models.Tier1:
		if res.HasMatchType(models.MatchKeyword) {
			return models.ReasonKeywordMatch
		}
		return models.ReasonDomainMatch
	case models.TierSecurity:
		return models.ReasonSecurityMatch
	case models.Tier2:
		if res.HasRisk(models.RiskMalicious) {
			return models.ReasonMaliciousLink
		}
		return models.ReasonSuspiciousLink
	case models.Tier3:
		return models.ReasonAIViolation
	}
	return models.ReasonPassed
}

// priorityFor ranks a review item by the most severe evidence in the flow.
func priorityFor(steps []models.TierResult) models.Priority {
	failed := func(s models.TierResult) bool {
		return s.Evaluated && s.Passed != nil && !*s.Passed
	}
	for _, s := range steps {
		if !s.Evaluated {
			continue
		}
		if s.Tier == models.TierSecurity && s.HasSeverity(models.SeverityCritical) {
			return models.PriorityCritical
		}
		if s.Tier == models.Tier2 && s.HasRisk(models.RiskMalicious) {
			return models.PriorityCritical
		}
	}
	for _, s := range steps {
		if s.Tier == models.Tier3 && failed(s) {
			return models.PriorityHigh
		}
	}
	for _, s := range steps {
		if s.Tier == models.Tier1 && failed(s) {
			return models.PriorityMedium
		}
	}
	return models.PriorityLow
}

// BuildQueueItem converts a decision into a pending review item. Id and
// creation time are assigned by the queue.
func BuildQueueItem(sub models.Submission, d models.Decision, trace *TierTrace) models.QueueItem {
	item := models.QueueItem{
		Workflow:      sub.Workflow,
		ContentType:   sub.ContentType,
		Content:       sub.Text,
		ContentHash:   textutil.Fingerprint(sub.Text),
		UserID:        sub.UserID,
		UserEmail:     sub.UserEmail,
		ChannelID:     sub.ChannelID,
		GroupID:       sub.GroupID,
		Country:       sub.Country,
		DeviceType:    sub.DeviceType,
		TierFlow:      d.TierFlow,
		Priority:      d.Priority,
		OverallAction: d.Action,
		Reason:        d.Reason,
		Status:        models.StatusPending,
	}

	var terms []string
	if r, ok := trace.Result(models.Tier1); ok && r.Evaluated {
		item.Tier1Result = &r
		for _, m := range r.Checks.Matches {
			if m.Type == models.MatchKeyword {
				terms = append(terms, m.Value)
			}
		}
	}
	if r, ok := trace.Result(models.Tier2); ok && r.Evaluated {
		item.Tier2Result = &r
	}
	if r, ok := trace.Result(models.Tier3); ok && r.Evaluated {
		item.Tier3Result = &r
	}
	item.SafeContent = textutil.Redact(sub.Text, terms, textutil.ExtractURLs(sub.Text))
	return item
}
