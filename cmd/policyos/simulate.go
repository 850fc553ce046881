package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/polisai/policyos/pkg/approval"
	"github.com/polisai/policyos/pkg/config"
	"github.com/polisai/policyos/pkg/domain"
	"github.com/polisai/policyos/pkg/engine"
	"github.com/polisai/policyos/pkg/plugin"
	"github.com/polisai/policyos/pkg/plugin/builtin"
	"github.com/polisai/policyos/pkg/policy"
	"github.com/polisai/policyos/pkg/schema"
	"github.com/polisai/policyos/pkg/storage"
)

const simulatorActor = "simulator"

// scenario is the input to `policyos simulate`: a merchant, the policy specs
// to publish, and the events to evaluate against them.
type scenario struct {
	MerchantID string           `yaml:"merchant_id"`
	Policies   []map[string]any `yaml:"policies"`
	Events     []scenarioEvent  `yaml:"events"`
}

type scenarioEvent struct {
	Type       string         `yaml:"type"`
	UserID     string         `yaml:"user_id"`
	Attributes map[string]any `yaml:"attributes"`
	User       map[string]any `yaml:"user"`
}

// newSimulateCmd creates the `policyos simulate` command.
func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a scenario through the full draft-to-decision lifecycle",
		Long: `Publishes each policy in the scenario file through the draft, submit,
approve, and publish transitions, then evaluates every scenario event and
prints the resulting decisions. State lives in the configured store, or in
memory when none is configured.`,
		Args: cobra.NoArgs,
		RunE: runSimulate,
	}
	cmd.Flags().StringP("file", "f", "", "Scenario file (YAML)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runSimulate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	path, _ := cmd.Flags().GetString("file")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	var scn scenario
	if err := yaml.Unmarshal(data, &scn); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}
	if scn.MerchantID == "" {
		return fmt.Errorf("scenario requires merchant_id")
	}

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	schemas, err := schema.NewRegistry()
	if err != nil {
		return err
	}
	tokens := approval.NewService(signingSecret(cfg), nil)
	adapter := engine.NewLocalAdapter(nil)

	plugins := plugin.NewRegistry()
	if err := builtin.Register(plugins, store); err != nil {
		return err
	}

	policies := policy.NewRegistry(policy.Config{
		Store:    store,
		Schemas:  schemas,
		Tokens:   tokens,
		Compiler: adapter,
		Logger:   logger,
	})
	decisions := engine.NewService(engine.Config{
		Policies: policies,
		Plugins:  plugins,
		Adapter:  adapter,
		Tokens:   tokens,
		Store:    store,
		Logger:   logger,
	})

	for _, spec := range scn.Policies {
		policyID, err := publishSpec(ctx, policies, scn.MerchantID, spec)
		if err != nil {
			return err
		}
		logger.Info("published policy", "policy_id", policyID)
	}

	execToken, _, err := tokens.IssueToken(approval.IssueRequest{
		MerchantID: scn.MerchantID,
		ApproverID: simulatorActor,
		Scopes:     []string{engine.ScopeExecute},
		TTL:        time.Minute,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, ev := range scn.Events {
		decision, err := decisions.EvaluateEvent(ctx, engine.EvaluateRequest{
			MerchantID: scn.MerchantID,
			Token:      execToken,
			User:       ev.User,
			Event: domain.Event{
				Type:       ev.Type,
				MerchantID: scn.MerchantID,
				UserID:     ev.UserID,
				Attributes: ev.Attributes,
			},
		})
		if err != nil {
			return fmt.Errorf("evaluate event %d: %w", i, err)
		}
		rendered, err := yaml.Marshal(decision)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "--- event %d (%s)\n%s", i, ev.Type, rendered)
	}
	return nil
}

// publishSpec drives one spec through the whole lifecycle and returns the
// published policy id.
func publishSpec(ctx context.Context, policies *policy.Registry, merchantID string, spec map[string]any) (string, error) {
	draft, err := policies.CreateDraft(ctx, merchantID, simulatorActor, spec, "")
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	if _, err := policies.SubmitDraft(ctx, merchantID, simulatorActor, draft.DraftID); err != nil {
		return "", fmt.Errorf("submit draft %s: %w", draft.DraftID, err)
	}
	granted, err := policies.ApproveDraft(ctx, merchantID, simulatorActor, draft.DraftID, "single")
	if err != nil {
		return "", fmt.Errorf("approve draft %s: %w", draft.DraftID, err)
	}
	published, err := policies.PublishDraft(ctx, merchantID, simulatorActor, draft.DraftID, granted.ApprovalID, "")
	if err != nil {
		return "", fmt.Errorf("publish draft %s: %w", draft.DraftID, err)
	}
	return published.PolicyID, nil
}

func openStore(ctx context.Context, cfg config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return storage.NewSQLiteStore(ctx, cfg.Storage.DSN)
	default:
		return storage.NewMemoryStore(), nil
	}
}

// signingSecret returns the configured secret, or a random ephemeral one so
// an unconfigured simulation still round-trips its own tokens.
func signingSecret(cfg config.Config) []byte {
	if cfg.Governance.SigningSecret != "" {
		return []byte(cfg.Governance.SigningSecret)
	}
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return secret
}
