package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/polisai/policyos/pkg/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema version identifiers understood by the registry.
const (
	VersionPolicyV1 = "policyos.v1"
	VersionStoryV1  = "story.v1"
)

var schemaFiles = map[string]string{
	VersionPolicyV1: "schemas/policyos.v1.json",
	VersionStoryV1:  "schemas/story.v1.json",
}

type compiledSchema struct {
	version  string
	document json.RawMessage
	schema   *jsonschema.Schema
}

// Registry validates payloads against versioned, pre-compiled JSON Schemas.
type Registry struct {
	schemas map[string]*compiledSchema
}

// NewRegistry compiles the embedded schema documents. Compilation failure is
// a programming error and surfaces at startup.
func NewRegistry() (*Registry, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	registry := &Registry{schemas: make(map[string]*compiledSchema, len(schemaFiles))}
	for version, path := range schemaFiles {
		document, err := schemaFS.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", version, err)
		}
		url := fmt.Sprintf("https://policyos.schemas.local/%s.schema.json", version)
		if err := compiler.AddResource(url, bytes.NewReader(document)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", version, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", version, err)
		}
		registry.schemas[version] = &compiledSchema{version: version, document: document, schema: compiled}
	}
	return registry, nil
}

// ListSchemas enumerates the registered schema versions, sorted.
func (r *Registry) ListSchemas() []string {
	versions := make([]string, 0, len(r.schemas))
	for version := range r.schemas {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// GetSchema returns the raw schema document for a version.
func (r *Registry) GetSchema(version string) (json.RawMessage, error) {
	compiled, ok := r.schemas[version]
	if !ok {
		return nil, fmt.Errorf("%s: %w", version, domain.ErrSchemaNotFound)
	}
	return compiled.document, nil
}

// Validate checks an arbitrary payload against a schema version and returns
// the normalized JSON document on success. The payload is round-tripped
// through encoding/json first so YAML-decoded values validate identically.
func (r *Registry) Validate(version string, payload any) (json.RawMessage, error) {
	compiled, ok := r.schemas[version]
	if !ok {
		return nil, fmt.Errorf("%s: %w", version, domain.ErrSchemaNotFound)
	}

	normalized, err := normalize(payload)
	if err != nil {
		return nil, &domain.SchemaError{Version: version, Issues: []domain.Issue{{Path: "$", Message: err.Error()}}}
	}

	var doc any
	if err := json.Unmarshal(normalized, &doc); err != nil {
		return nil, &domain.SchemaError{Version: version, Issues: []domain.Issue{{Path: "$", Message: err.Error()}}}
	}

	if err := compiled.schema.Validate(doc); err != nil {
		return nil, &domain.SchemaError{Version: version, Issues: flattenIssues(err)}
	}
	return normalized, nil
}

// ValidateSpec validates a policy specification payload against policyos.v1
// (and its embedded story against story.v1 when present), then decodes the
// coerced, defaulted spec. Nothing is applied on failure.
func (r *Registry) ValidateSpec(payload any) (*domain.PolicySpec, error) {
	normalized, err := r.Validate(VersionPolicyV1, payload)
	if err != nil {
		return nil, err
	}

	var spec domain.PolicySpec
	if err := json.Unmarshal(normalized, &spec); err != nil {
		return nil, &domain.SchemaError{Version: VersionPolicyV1, Issues: []domain.Issue{{Path: "$", Message: err.Error()}}}
	}

	if spec.Story != nil {
		if _, err := r.Validate(VersionStoryV1, spec.Story); err != nil {
			if se, ok := domain.IsSchemaError(err); ok {
				return nil, &domain.SchemaError{Version: VersionPolicyV1, Issues: prefixIssues("/story", se.Issues)}
			}
			return nil, err
		}
	}

	applyDefaults(&spec)
	return &spec, nil
}

// applyDefaults fills the optional enum and bound fields the schema leaves
// open. Defaults are applied here, post-validation, not by the validator.
func applyDefaults(spec *domain.PolicySpec) {
	if spec.TieBreaker == "" {
		spec.TieBreaker = domain.TieUtilityDesc
	}
	if spec.OverlapPolicy.Mode == "" {
		spec.OverlapPolicy.Mode = domain.OverlapHardExclusive
	}
	if spec.OverlapPolicy.MaxWinners <= 0 {
		spec.OverlapPolicy.MaxWinners = 1
	}
	if spec.Program.MaxInstances <= 0 {
		spec.Program.MaxInstances = 1
	}
	if spec.Governance.ApprovalTokenTTLSec <= 0 {
		spec.Governance.ApprovalTokenTTLSec = 300
	}
}

func normalize(payload any) (json.RawMessage, error) {
	switch typed := payload.(type) {
	case json.RawMessage:
		return typed, nil
	case []byte:
		return typed, nil
	default:
		return json.Marshal(payload)
	}
}

// flattenIssues walks the validator's cause tree and keeps the leaves, which
// carry the most specific instance paths.
func flattenIssues(err error) []domain.Issue {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []domain.Issue{{Path: "$", Message: err.Error()}}
	}
	var issues []domain.Issue
	var walk func(*jsonschema.ValidationError)
	walk = func(node *jsonschema.ValidationError) {
		if len(node.Causes) == 0 {
			path := node.InstanceLocation
			if path == "" {
				path = "$"
			}
			issues = append(issues, domain.Issue{Path: path, Message: node.Message})
			return
		}
		for _, cause := range node.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return issues
}

func prefixIssues(prefix string, issues []domain.Issue) []domain.Issue {
	out := make([]domain.Issue, len(issues))
	for i, issue := range issues {
		path := issue.Path
		if path == "$" || path == "" {
			path = prefix
		} else {
			path = prefix + path
		}
		out[i] = domain.Issue{Path: path, Message: issue.Message}
	}
	return out
}
