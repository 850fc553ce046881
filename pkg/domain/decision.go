package domain

import "time"

// Event is one runtime occurrence a merchant's policies can react to: a
// customer opening the app, weather changing, a payment occurring.
type Event struct {
	Type       string         `json:"type" yaml:"type"`
	MerchantID string         `json:"merchant_id" yaml:"merchant_id"`
	UserID     string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at,omitempty" yaml:"occurred_at,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// EvalContext is the per-evaluation context handed to every plugin call.
type EvalContext struct {
	Event   Event          `json:"event"`
	User    map[string]any `json:"user,omitempty"`
	Vars    map[string]any `json:"vars,omitempty"`
	TraceID string         `json:"trace_id"`
	Now     time.Time      `json:"now"`
}

// Margin reads the contextual margin attribute used by the HIGHER_MARGIN tie
// breaker; zero when absent or non-numeric.
func (c *EvalContext) Margin() float64 {
	if c == nil {
		return 0
	}
	return NumberAttr(c.Event.Attributes, "margin")
}

// NumberAttr coerces a numeric attribute out of an untyped map.
func NumberAttr(attrs map[string]any, key string) float64 {
	switch v := attrs[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// CostEstimate is the pre-allocation estimate produced by action plugins.
type CostEstimate struct {
	Cost       float64 `json:"cost"`
	BudgetCost float64 `json:"budget_cost"`
}

// Add accumulates another estimate.
func (e *CostEstimate) Add(other CostEstimate) {
	e.Cost += other.Cost
	e.BudgetCost += other.BudgetCost
}

// ConstraintResult is the outcome of one constraint check.
type ConstraintResult struct {
	OK          bool     `json:"ok"`
	ReasonCodes []string `json:"reason_codes,omitempty"`
	RiskFlags   []string `json:"risk_flags,omitempty"`
}

// ScoreResult is the outcome of the scorer plugin: a single utility plus any
// explain-relevant detail fields.
type ScoreResult struct {
	Utility       float64        `json:"utility"`
	ExpectedRange []float64      `json:"expected_range,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Candidate is a transient pairing of a policy with a matched trigger
// instance. Candidates exist only within one EvaluateEvent call.
type Candidate struct {
	Policy          *Policy
	TriggerRef      PluginRef
	TriggerInstance map[string]any
	Estimate        CostEstimate
	ReasonCodes     []string
	RiskFlags       []string
	Score           ScoreResult
}

// Rejection records why a policy was excluded from a decision.
type Rejection struct {
	PolicyID string `json:"policyId" yaml:"policyId"`
	Reason   string `json:"reason" yaml:"reason"`
}

// ExplainRecord is the human-readable account of one executed candidate.
type ExplainRecord struct {
	PolicyID      string         `json:"policy_id" yaml:"policy_id"`
	Utility       float64        `json:"utility" yaml:"utility"`
	ReasonCodes   []string       `json:"reason_codes,omitempty" yaml:"reason_codes,omitempty"`
	RiskFlags     []string       `json:"risk_flags,omitempty" yaml:"risk_flags,omitempty"`
	ExpectedRange []float64      `json:"expected_range,omitempty" yaml:"expected_range,omitempty"`
	Details       map[string]any `json:"details,omitempty" yaml:"details,omitempty"`
	Summary       string         `json:"summary,omitempty" yaml:"summary,omitempty"`
}

// StoryCard is a client-facing narrative emitted by an executed policy.
type StoryCard struct {
	PolicyID   string       `json:"policy_id" yaml:"policy_id"`
	TemplateID string       `json:"template_id" yaml:"template_id"`
	Narrative  string       `json:"narrative" yaml:"narrative"`
	Assets     []StoryAsset `json:"assets,omitempty" yaml:"assets,omitempty"`
	Triggers   []string     `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// Grant is a concrete benefit (voucher, credit) emitted by an executed policy.
type Grant struct {
	PolicyID string  `json:"policy_id" yaml:"policy_id"`
	UserID   string  `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Kind     string  `json:"kind" yaml:"kind"`
	Value    float64 `json:"value" yaml:"value"`
}

// Decision is the persisted, immutable outcome of one EvaluateEvent call.
// It is the unit of auditability and backs the explain API.
type Decision struct {
	DecisionID string          `json:"decision_id" yaml:"decision_id"`
	TraceID    string          `json:"trace_id" yaml:"trace_id"`
	MerchantID string          `json:"merchant_id" yaml:"merchant_id"`
	Event      Event           `json:"event" yaml:"event"`
	Executed   []string        `json:"executed" yaml:"executed"`
	Rejected   []Rejection     `json:"rejected" yaml:"rejected"`
	Explains   []ExplainRecord `json:"explains" yaml:"explains"`
	StoryCards []StoryCard     `json:"story_cards,omitempty" yaml:"story_cards,omitempty"`
	Grants     []Grant         `json:"grants,omitempty" yaml:"grants,omitempty"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	DurationMS int64           `json:"duration_ms" yaml:"duration_ms"`
}

// DecisionExplain is the read projection returned by the explain API.
type DecisionExplain struct {
	DecisionID    string          `json:"decision_id" yaml:"decision_id"`
	TraceID       string          `json:"trace_id" yaml:"trace_id"`
	MerchantID    string          `json:"merchant_id" yaml:"merchant_id"`
	Event         Event           `json:"event" yaml:"event"`
	Executed      []string        `json:"executed" yaml:"executed"`
	Rejected      []Rejection     `json:"rejected" yaml:"rejected"`
	Explains      []ExplainRecord `json:"explains" yaml:"explains"`
	ExpectedRange []float64       `json:"expected_range" yaml:"expected_range"`
}
