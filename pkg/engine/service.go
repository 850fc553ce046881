package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/polisai/policyos/pkg/approval"
	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/plugin"
	"github.com/polisai/policyos/pkg/policy"
	"github.com/polisai/policyos/pkg/storage"
	"github.com/polisai/policyos/pkg/telemetry"
)

// ScopeExecute is the token scope required to evaluate events.
const ScopeExecute = "execute"

// Service is the evaluation, allocation, and execution orchestrator. It
// holds no per-call state: every EvaluateEvent is a pure pipeline over the
// current published-policy snapshot.
type Service struct {
	policies *policy.Registry
	plugins  *plugin.Registry
	adapter  ExecutionAdapter
	tokens   *approval.Service
	store    storage.Store
	sink     telemetry.Sink
	clock    domain.Clock
	ids      domain.IDGenerator
	logger   *slog.Logger
}

// Config holds the collaborators a Service needs.
type Config struct {
	Policies *policy.Registry
	Plugins  *plugin.Registry
	Adapter  ExecutionAdapter
	Tokens   *approval.Service
	Store    storage.Store
	Sink     telemetry.Sink
	Clock    domain.Clock
	IDs      domain.IDGenerator
	Logger   *slog.Logger
}

// NewService creates a decision service. Sink, Clock, IDs, and Logger
// default to no-op or system implementations when nil.
func NewService(cfg Config) *Service {
	sink := cfg.Sink
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = domain.UUIDGenerator{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		policies: cfg.Policies,
		plugins:  cfg.Plugins,
		adapter:  cfg.Adapter,
		tokens:   cfg.Tokens,
		store:    cfg.Store,
		sink:     sink,
		clock:    clock,
		ids:      ids,
		logger:   logger,
	}
}

// EvaluateRequest is one event submitted for evaluation, together with the
// execute-scoped capability token that authorizes it.
type EvaluateRequest struct {
	MerchantID string
	Event      domain.Event
	Token      string
	User       map[string]any
}

// EvaluateEvent runs the full pipeline: guard, candidate generation, sort,
// allocation, reservation, execution, and recording. The returned Decision
// is already persisted.
func (s *Service) EvaluateEvent(ctx context.Context, req EvaluateRequest) (*domain.Decision, error) {
	if _, err := s.tokens.VerifyToken(req.Token, approval.VerifyOptions{
		ExpectedMerchantID: req.MerchantID,
		ExpectedScope:      ScopeExecute,
	}); err != nil {
		return nil, err
	}

	start := s.clock.Now()
	eval := &domain.EvalContext{
		Event:   req.Event,
		User:    req.User,
		Vars:    make(map[string]any),
		TraceID: s.ids.NewID(),
		Now:     start,
	}

	actives, err := s.policies.ListActivePolicies(ctx, req.MerchantID)
	if err != nil {
		return nil, fmt.Errorf("load active policies: %w", err)
	}

	candidates, rejected := s.generateCandidates(ctx, actives, eval)
	sortCandidates(candidates, eval)

	winners, allocationRejected := allocate(candidates, req.Event.UserID)
	rejected = append(rejected, allocationRejected...)

	decision := &domain.Decision{
		DecisionID: s.ids.NewID(),
		TraceID:    eval.TraceID,
		MerchantID: req.MerchantID,
		Event:      req.Event,
		Executed:   []string{},
		Rejected:   []domain.Rejection{},
		Explains:   []domain.ExplainRecord{},
		StartedAt:  start,
	}

	for _, winner := range winners {
		held, rejection := s.reserveCandidate(ctx, winner, eval)
		if rejection != nil {
			rejected = append(rejected, *rejection)
			continue
		}
		if rejection := s.executeCandidate(ctx, winner, held, eval, decision); rejection != nil {
			rejected = append(rejected, *rejection)
		}
	}

	decision.Rejected = append(decision.Rejected, rejected...)
	finished := s.clock.Now()
	decision.FinishedAt = finished
	decision.DurationMS = finished.Sub(start).Milliseconds()

	if err := s.store.PutDecision(ctx, decision); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}
	if err := s.store.Save(ctx); err != nil {
		return nil, fmt.Errorf("persist decision: %w", err)
	}

	s.record(ctx, decision)
	return decision, nil
}

// executeCandidate compiles, explains, and executes one fully reserved
// candidate. A non-success execution releases the candidate's reservations
// in reverse order.
func (s *Service) executeCandidate(ctx context.Context, c *domain.Candidate, held []heldReservation, eval *domain.EvalContext, decision *domain.Decision) *domain.Rejection {
	p := c.Policy

	plan, err := s.adapter.Compile(p, eval.TraceID)
	if err != nil {
		s.releaseReservations(ctx, held, p)
		return &domain.Rejection{PolicyID: p.PolicyID, Reason: "execution_failed"}
	}

	explain := s.adapter.Explain(p, c.Score, c.ReasonCodes, c.RiskFlags)

	result, err := s.adapter.Execute(ctx, p, plan, eval.TraceID)
	if err != nil || !result.Success {
		s.releaseReservations(ctx, held, p)
		return &domain.Rejection{PolicyID: p.PolicyID, Reason: "execution_failed"}
	}

	decision.Executed = append(decision.Executed, p.PolicyID)
	decision.Explains = append(decision.Explains, explain)
	for _, response := range result.Responses {
		decision.StoryCards = append(decision.StoryCards, response.StoryCards...)
		for _, grant := range response.Grants {
			if grant.UserID == "" {
				grant.UserID = decision.Event.UserID
			}
			decision.Grants = append(decision.Grants, grant)
		}
	}
	return nil
}

// record emits the engine's only observability surface: structured counters
// and one log line per decision.
func (s *Service) record(ctx context.Context, d *domain.Decision) {
	telemetry.RecordDecisionMetrics(ctx, telemetry.DecisionMetrics{
		MerchantID: d.MerchantID,
		EventType:  d.Event.Type,
		Executed:   len(d.Executed),
		Rejected:   len(d.Rejected),
		Duration:   d.FinishedAt.Sub(d.StartedAt),
	})

	s.sink.Add("decisions_total", 1)
	s.sink.Add("decisions_executed_total", float64(len(d.Executed)))
	s.sink.Add("decisions_rejected_total", float64(len(d.Rejected)))
	s.sink.Add("decision_latency_ms", float64(d.DurationMS))

	s.logger.Info("decision recorded",
		"decision_id", d.DecisionID,
		"trace_id", d.TraceID,
		"merchant_id", d.MerchantID,
		"event_type", d.Event.Type,
		"executed", len(d.Executed),
		"rejected", len(d.Rejected),
		"duration_ms", d.DurationMS,
	)
}

// GetDecisionExplain returns the explain projection of a stored decision.
func (s *Service) GetDecisionExplain(ctx context.Context, decisionID string) (*domain.DecisionExplain, error) {
	decision, err := s.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", decisionID, domain.ErrDecisionNotFound)
	}

	expectedRange := []float64{}
	for _, explain := range decision.Explains {
		if len(explain.ExpectedRange) > 0 {
			expectedRange = append([]float64(nil), explain.ExpectedRange...)
			break
		}
	}

	return &domain.DecisionExplain{
		DecisionID:    decision.DecisionID,
		TraceID:       decision.TraceID,
		MerchantID:    decision.MerchantID,
		Event:         decision.Event,
		Executed:      decision.Executed,
		Rejected:      decision.Rejected,
		Explains:      decision.Explains,
		ExpectedRange: expectedRange,
	}, nil
}
