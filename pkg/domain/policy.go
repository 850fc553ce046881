package domain

import (
	"fmt"
	"time"
)

// Lane is the coarse priority class of a policy. Higher lanes always outrank
// lower lanes during allocation, regardless of utility.
type Lane string

// Lane values, highest priority first.
const (
	LaneEmergency  Lane = "EMERGENCY"
	LaneGuarded    Lane = "GUARDED"
	LaneNormal     Lane = "NORMAL"
	LaneBackground Lane = "BACKGROUND"
)

// Rank maps a lane to its numeric priority. Unknown lanes rank below
// BACKGROUND so malformed specs can never outrank well-formed ones.
func (l Lane) Rank() int {
	switch l {
	case LaneEmergency:
		return 4
	case LaneGuarded:
		return 3
	case LaneNormal:
		return 2
	case LaneBackground:
		return 1
	default:
		return 0
	}
}

// TieBreaker selects the tertiary ordering rule applied when lane and utility
// are equal.
type TieBreaker string

// TieBreaker values.
const (
	TieUtilityDesc  TieBreaker = "UTILITY_DESC"
	TieExpirySooner TieBreaker = "EXPIRY_SOONER"
	TieHigherMargin TieBreaker = "HIGHER_MARGIN"
	TieRandomJitter TieBreaker = "RANDOM_JITTER"
)

// OverlapMode governs how a policy competes for a conflict key during
// allocation.
type OverlapMode string

// OverlapMode values.
const (
	OverlapHardExclusive OverlapMode = "HARD_EXCLUSIVE"
	OverlapSoftExclusive OverlapMode = "SOFT_EXCLUSIVE"
	OverlapStackable     OverlapMode = "STACKABLE"
	OverlapPreemptive    OverlapMode = "PREEMPTIVE"
)

// PluginRef names a plugin implementation together with its configuration
// parameters. The referenced plugin is resolved through the plugin registry
// at evaluation time.
type PluginRef struct {
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// Program bounds the runtime behaviour of a published policy.
type Program struct {
	TTLSec          int `json:"ttl_sec" yaml:"ttl_sec"`
	MaxInstances    int `json:"max_instances" yaml:"max_instances"`
	PacingPerMinute int `json:"pacing_per_minute,omitempty" yaml:"pacing_per_minute,omitempty"`
	PacingPerDay    int `json:"pacing_per_day,omitempty" yaml:"pacing_per_day,omitempty"`
}

// OverlapPolicy configures conflict-set membership and admission behaviour.
type OverlapPolicy struct {
	Mode        OverlapMode `json:"mode" yaml:"mode"`
	ConflictSet string      `json:"conflict_set,omitempty" yaml:"conflict_set,omitempty"`
	MaxWinners  int         `json:"max_winners,omitempty" yaml:"max_winners,omitempty"`
	CooldownSec int         `json:"cooldown_sec,omitempty" yaml:"cooldown_sec,omitempty"`
}

// ResourceScope pins a policy to the merchant (and optionally store) whose
// resources it may spend.
type ResourceScope struct {
	MerchantID string `json:"merchant_id" yaml:"merchant_id"`
	StoreID    string `json:"store_id,omitempty" yaml:"store_id,omitempty"`
}

// Governance declares the human-approval requirements for publishing.
type Governance struct {
	RequireApproval     bool   `json:"require_approval" yaml:"require_approval"`
	ApprovalLevel       string `json:"approval_level,omitempty" yaml:"approval_level,omitempty"`
	ApprovalTokenTTLSec int    `json:"approval_token_ttl_sec,omitempty" yaml:"approval_token_ttl_sec,omitempty"`
}

// StoryAsset is a single media reference inside a story payload.
type StoryAsset struct {
	Kind string `json:"kind" yaml:"kind"`
	URI  string `json:"uri" yaml:"uri"`
}

// Story is the optional narrative payload a policy emits to drive client UI.
type Story struct {
	TemplateID string       `json:"templateId" yaml:"templateId"`
	Narrative  string       `json:"narrative" yaml:"narrative"`
	Assets     []StoryAsset `json:"assets,omitempty" yaml:"assets,omitempty"`
	Triggers   []string     `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// PolicySpec is the validated, immutable description of a rule. It is the
// payload of a Draft and, once published, embedded in a Policy.
type PolicySpec struct {
	PolicyKey     string        `json:"policy_key" yaml:"policy_key"`
	Name          string        `json:"name" yaml:"name"`
	Lane          Lane          `json:"lane" yaml:"lane"`
	TieBreaker    TieBreaker    `json:"tie_breaker,omitempty" yaml:"tie_breaker,omitempty"`
	Goal          string        `json:"goal,omitempty" yaml:"goal,omitempty"`
	Segment       PluginRef     `json:"segment" yaml:"segment"`
	Triggers      []PluginRef   `json:"triggers" yaml:"triggers"`
	Program       Program       `json:"program" yaml:"program"`
	Actions       []PluginRef   `json:"actions" yaml:"actions"`
	Constraints   []PluginRef   `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Scoring       PluginRef     `json:"scoring" yaml:"scoring"`
	Story         *Story        `json:"story,omitempty" yaml:"story,omitempty"`
	OverlapPolicy OverlapPolicy `json:"overlap_policy" yaml:"overlap_policy"`
	ResourceScope ResourceScope `json:"resource_scope" yaml:"resource_scope"`
	Governance    Governance    `json:"governance" yaml:"governance"`
}

// ConflictSet returns the declared conflict set, falling back to the policy
// key so an undeclared policy competes only with its own instances.
func (s *PolicySpec) ConflictSet() string {
	if s.OverlapPolicy.ConflictSet != "" {
		return s.OverlapPolicy.ConflictSet
	}
	return s.PolicyKey
}

// Clone returns a deep copy of the spec to avoid shared mutable state.
func (s *PolicySpec) Clone() PolicySpec {
	clone := *s
	clone.Triggers = clonePluginRefs(s.Triggers)
	clone.Actions = clonePluginRefs(s.Actions)
	clone.Constraints = clonePluginRefs(s.Constraints)
	clone.Segment = s.Segment.clone()
	clone.Scoring = s.Scoring.clone()
	if s.Story != nil {
		story := *s.Story
		story.Assets = append([]StoryAsset(nil), s.Story.Assets...)
		story.Triggers = append([]string(nil), s.Story.Triggers...)
		clone.Story = &story
	}
	return clone
}

func (r PluginRef) clone() PluginRef {
	return PluginRef{Name: r.Name, Params: CloneAnyMap(r.Params)}
}

func clonePluginRefs(refs []PluginRef) []PluginRef {
	if len(refs) == 0 {
		return nil
	}
	out := make([]PluginRef, len(refs))
	for i, r := range refs {
		out[i] = r.clone()
	}
	return out
}

// PolicyStatus is the lifecycle state of a published policy.
type PolicyStatus string

// PolicyStatus values.
const (
	PolicyPublished PolicyStatus = "PUBLISHED"
	PolicyExpired   PolicyStatus = "EXPIRED"
)

// Policy is an immutable, versioned, published rule. Versions form a gapless
// increasing sequence per PolicyKey starting at 1.
type Policy struct {
	PolicySpec

	PolicyID      string       `json:"policy_id" yaml:"policy_id"`
	Version       int          `json:"version" yaml:"version"`
	Status        PolicyStatus `json:"status" yaml:"status"`
	PublishedAt   time.Time    `json:"published_at" yaml:"published_at"`
	ExpiresAt     time.Time    `json:"expires_at" yaml:"expires_at"`
	SourceDraftID string       `json:"source_draft_id" yaml:"source_draft_id"`
}

// PolicyID mints the canonical identifier of a published policy version.
func PolicyID(policyKey string, version int) string {
	return fmt.Sprintf("%s@v%d", policyKey, version)
}

// Clone returns a deep copy of the policy.
func (p *Policy) Clone() *Policy {
	if p == nil {
		return nil
	}
	clone := *p
	clone.PolicySpec = p.PolicySpec.Clone()
	return &clone
}

// PlanStep is one compiled step of an execution plan.
type PlanStep struct {
	Kind   string         `json:"kind" yaml:"kind"`
	Name   string         `json:"name" yaml:"name"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// ExecutionPlan is a compiled, cached projection of a published policy for
// the execution adapter. Derived, not authoritative.
type ExecutionPlan struct {
	PlanID     string     `json:"plan_id" yaml:"plan_id"`
	PolicyID   string     `json:"policy_id" yaml:"policy_id"`
	Steps      []PlanStep `json:"steps" yaml:"steps"`
	CompiledAt time.Time  `json:"compiled_at" yaml:"compiled_at"`
}

// CloneAnyMap returns a shallow copy of an arbitrary attribute map, mapping
// empty input to nil so callers can compare against zero values.
func CloneAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
