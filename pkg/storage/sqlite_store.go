package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/polisai/policyos/pkg/domain"
)

// SQLiteStore persists PolicyOS state in a single SQLite database. Records
// are stored as JSON documents with the columns needed for lookups broken
// out. Writes are committed immediately, so Save is a no-op.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS drafts (
	draft_id    TEXT PRIMARY KEY,
	merchant_id TEXT NOT NULL,
	updated_at  INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_drafts_merchant ON drafts(merchant_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS approvals (
	approval_id TEXT PRIMARY KEY,
	draft_id    TEXT NOT NULL,
	approved_at INTEGER NOT NULL,
	data        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_approvals_draft ON approvals(draft_id, approved_at DESC);

CREATE TABLE IF NOT EXISTS policies (
	policy_id    TEXT PRIMARY KEY,
	merchant_id  TEXT NOT NULL,
	policy_key   TEXT NOT NULL,
	version      INTEGER NOT NULL,
	published_at INTEGER NOT NULL,
	data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_policies_merchant ON policies(merchant_id, published_at DESC);
CREATE INDEX IF NOT EXISTS idx_policies_key ON policies(policy_key, version DESC);

CREATE TABLE IF NOT EXISTS published_index (
	merchant_id TEXT PRIMARY KEY,
	policy_ids  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS plans (
	policy_id TEXT PRIMARY KEY,
	data      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	decision_id TEXT PRIMARY KEY,
	data        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS resources (
	key   TEXT PRIMARY KEY,
	value REAL NOT NULL
);
`

// NewSQLiteStore opens (and if necessary initializes) a SQLite-backed store
// at the given DSN. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	// The modernc driver serializes access through a single connection; more
	// would reintroduce SQLITE_BUSY churn under the per-merchant lock model.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// GetDraft retrieves a draft by id.
func (s *SQLiteStore) GetDraft(ctx context.Context, draftID string) (*domain.Draft, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM drafts WHERE draft_id = ?`, draftID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query draft: %w", err)
	}
	var draft domain.Draft
	if err := json.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", draftID, err)
	}
	return &draft, nil
}

// PutDraft stores a draft, replacing any previous record with the same id.
func (s *SQLiteStore) PutDraft(ctx context.Context, draft *domain.Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("encode draft %s: %w", draft.DraftID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO drafts (draft_id, merchant_id, updated_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(draft_id) DO UPDATE SET merchant_id = excluded.merchant_id,
		 updated_at = excluded.updated_at, data = excluded.data`,
		draft.DraftID, draft.MerchantID, draft.UpdatedAt.UnixMilli(), data)
	if err != nil {
		return fmt.Errorf("store draft %s: %w", draft.DraftID, err)
	}
	return nil
}

// ListDrafts returns a merchant's drafts, newest-updated first.
func (s *SQLiteStore) ListDrafts(ctx context.Context, merchantID string) ([]*domain.Draft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM drafts WHERE merchant_id = ? ORDER BY updated_at DESC, draft_id ASC`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Draft
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan draft: %w", err)
		}
		var draft domain.Draft
		if err := json.Unmarshal(data, &draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
		out = append(out, &draft)
	}
	return out, rows.Err()
}

// GetApproval retrieves an approval by id.
func (s *SQLiteStore) GetApproval(ctx context.Context, approvalID string) (*domain.Approval, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM approvals WHERE approval_id = ?`, approvalID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval %s: %w", approvalID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query approval: %w", err)
	}
	var approval domain.Approval
	if err := json.Unmarshal(data, &approval); err != nil {
		return nil, fmt.Errorf("decode approval %s: %w", approvalID, err)
	}
	return &approval, nil
}

// GetApprovalByDraft returns the newest approval issued for a draft.
func (s *SQLiteStore) GetApprovalByDraft(ctx context.Context, draftID string) (*domain.Approval, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM approvals WHERE draft_id = ? ORDER BY approved_at DESC LIMIT 1`, draftID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval for draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query approval by draft: %w", err)
	}
	var approval domain.Approval
	if err := json.Unmarshal(data, &approval); err != nil {
		return nil, fmt.Errorf("decode approval for draft %s: %w", draftID, err)
	}
	return &approval, nil
}

// PutApproval stores an approval record.
func (s *SQLiteStore) PutApproval(ctx context.Context, approval *domain.Approval) error {
	data, err := json.Marshal(approval)
	if err != nil {
		return fmt.Errorf("encode approval %s: %w", approval.ApprovalID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO approvals (approval_id, draft_id, approved_at, data) VALUES (?, ?, ?, ?)
		 ON CONFLICT(approval_id) DO UPDATE SET data = excluded.data`,
		approval.ApprovalID, approval.DraftID, approval.ApprovedAt.UnixMilli(), data)
	if err != nil {
		return fmt.Errorf("store approval %s: %w", approval.ApprovalID, err)
	}
	return nil
}

// GetPolicy retrieves a published policy by its versioned id.
func (s *SQLiteStore) GetPolicy(ctx context.Context, policyID string) (*domain.Policy, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM policies WHERE policy_id = ?`, policyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("policy %s: %w", policyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query policy: %w", err)
	}
	var policy domain.Policy
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", policyID, err)
	}
	return &policy, nil
}

// PutPolicy stores a published policy.
func (s *SQLiteStore) PutPolicy(ctx context.Context, policy *domain.Policy) error {
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", policy.PolicyID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO policies (policy_id, merchant_id, policy_key, version, published_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(policy_id) DO UPDATE SET data = excluded.data`,
		policy.PolicyID, policy.ResourceScope.MerchantID, policy.PolicyKey,
		policy.Version, policy.PublishedAt.UnixMilli(), data)
	if err != nil {
		return fmt.Errorf("store policy %s: %w", policy.PolicyID, err)
	}
	return nil
}

// ListPolicies returns every stored policy version for a merchant, newest
// published first.
func (s *SQLiteStore) ListPolicies(ctx context.Context, merchantID string) ([]*domain.Policy, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM policies WHERE merchant_id = ? ORDER BY published_at DESC, policy_id ASC`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var out []*domain.Policy
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		var policy domain.Policy
		if err := json.Unmarshal(data, &policy); err != nil {
			return nil, fmt.Errorf("decode policy: %w", err)
		}
		out = append(out, &policy)
	}
	return out, rows.Err()
}

// MaxVersion returns the highest stored version for a policy key.
func (s *SQLiteStore) MaxVersion(ctx context.Context, policyKey string) (int, error) {
	var maxVersion sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM policies WHERE policy_key = ?`, policyKey).Scan(&maxVersion)
	if err != nil {
		return 0, fmt.Errorf("query max version: %w", err)
	}
	return int(maxVersion.Int64), nil
}

// PublishedIndex lists a merchant's published policy ids in publish order.
func (s *SQLiteStore) PublishedIndex(ctx context.Context, merchantID string) ([]string, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT policy_ids FROM published_index WHERE merchant_id = ?`, merchantID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query published index: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode published index: %w", err)
	}
	return ids, nil
}

// SetPublishedIndex replaces a merchant's published index.
func (s *SQLiteStore) SetPublishedIndex(ctx context.Context, merchantID string, policyIDs []string) error {
	if policyIDs == nil {
		policyIDs = []string{}
	}
	data, err := json.Marshal(policyIDs)
	if err != nil {
		return fmt.Errorf("encode published index: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO published_index (merchant_id, policy_ids) VALUES (?, ?)
		 ON CONFLICT(merchant_id) DO UPDATE SET policy_ids = excluded.policy_ids`,
		merchantID, data)
	if err != nil {
		return fmt.Errorf("store published index: %w", err)
	}
	return nil
}

// GetPlan retrieves the cached execution plan for a policy.
func (s *SQLiteStore) GetPlan(ctx context.Context, policyID string) (*domain.ExecutionPlan, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM plans WHERE policy_id = ?`, policyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan for %s: %w", policyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	var plan domain.ExecutionPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan for %s: %w", policyID, err)
	}
	return &plan, nil
}

// PutPlan caches an execution plan keyed by policy id.
func (s *SQLiteStore) PutPlan(ctx context.Context, plan *domain.ExecutionPlan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan for %s: %w", plan.PolicyID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plans (policy_id, data) VALUES (?, ?)
		 ON CONFLICT(policy_id) DO UPDATE SET data = excluded.data`,
		plan.PolicyID, data)
	if err != nil {
		return fmt.Errorf("store plan for %s: %w", plan.PolicyID, err)
	}
	return nil
}

// GetDecision retrieves a stored decision by id.
func (s *SQLiteStore) GetDecision(ctx context.Context, decisionID string) (*domain.Decision, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM decisions WHERE decision_id = ?`, decisionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query decision: %w", err)
	}
	var decision domain.Decision
	if err := json.Unmarshal(data, &decision); err != nil {
		return nil, fmt.Errorf("decode decision %s: %w", decisionID, err)
	}
	return &decision, nil
}

// PutDecision stores a decision record.
func (s *SQLiteStore) PutDecision(ctx context.Context, decision *domain.Decision) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision %s: %w", decision.DecisionID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (decision_id, data) VALUES (?, ?)
		 ON CONFLICT(decision_id) DO UPDATE SET data = excluded.data`,
		decision.DecisionID, data)
	if err != nil {
		return fmt.Errorf("store decision %s: %w", decision.DecisionID, err)
	}
	return nil
}

// GetResource reads a shared resource counter.
func (s *SQLiteStore) GetResource(ctx context.Context, key string) (float64, bool, error) {
	var value float64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM resources WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query resource %s: %w", key, err)
	}
	return value, true, nil
}

// SetResource writes a shared resource counter.
func (s *SQLiteStore) SetResource(ctx context.Context, key string, value float64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resources (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("store resource %s: %w", key, err)
	}
	return nil
}

// Save is a no-op: writes commit immediately.
func (s *SQLiteStore) Save(_ context.Context) error { return nil }

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
