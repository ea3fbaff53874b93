// Package policy checks public keys against a Rego policy before they are
// registered with HelseID.
package policy

import (
	"context"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/folkehelseinstituttet/helseid-tools/pkg/logger"
)

//go:embed key_policy.rego
var defaultPolicy string

const (
	query = "data.helseid.keypolicy.decision"
	// DefaultMinModulusBits matches the key size the tools generate.
	DefaultMinModulusBits = 4096
)

// Decision is the outcome of a policy evaluation.
type Decision struct {
	Allow      bool
	Violations []string
}

// Options configures an Evaluator.
type Options struct {
	// File replaces the embedded policy when set.
	File           string
	MinModulusBits int
}

// Evaluator holds a prepared Rego query.
type Evaluator struct {
	query          rego.PreparedEvalQuery
	minModulusBits int
	log            *logger.Logger
}

// NewEvaluator compiles the key policy.
func NewEvaluator(ctx context.Context, opts Options, log *logger.Logger) (*Evaluator, error) {
	module := defaultPolicy
	name := "key_policy.rego"
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		module = string(data)
		name = opts.File
	}
	if opts.MinModulusBits == 0 {
		opts.MinModulusBits = DefaultMinModulusBits
	}

	log.Debug("Loading key policy", "module", name)
	prepared, err := rego.New(
		rego.Query(query),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare key policy: %w", err)
	}

	return &Evaluator{query: prepared, minModulusBits: opts.MinModulusBits, log: log}, nil
}

// Check evaluates a public JWK document.
func (e *Evaluator) Check(ctx context.Context, publicJwk string) (Decision, error) {
	var members map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(publicJwk)), &members); err != nil {
		return Decision{Allow: false, Violations: []string{"key is not a JSON object"}}, nil
	}

	input := map[string]any{
		"key":              members,
		"modulus_bits":     modulusBits(members),
		"min_modulus_bits": e.minModulusBits,
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("evaluation error: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{Allow: false, Violations: []string{"no policy decision available"}}, nil
	}
	resultMap, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Decision{Allow: false, Violations: []string{"invalid policy result format"}}, nil
	}

	decision := Decision{}
	if allow, ok := resultMap["allow"].(bool); ok {
		decision.Allow = allow
	}
	if violations, ok := resultMap["violations"].([]any); ok {
		for _, v := range violations {
			if s, ok := v.(string); ok {
				decision.Violations = append(decision.Violations, s)
			}
		}
	}
	sort.Strings(decision.Violations)

	kid, _ := members["kid"].(string)
	if decision.Allow {
		e.log.Allow("key passes policy", "kid", kid)
	} else {
		e.log.Deny("key rejected by policy", "kid", kid, "violations", strings.Join(decision.Violations, "; "))
	}
	return decision, nil
}

// modulusBits returns the bit length of the RSA modulus in members["n"].
func modulusBits(members map[string]any) int {
	n, ok := members["n"].(string)
	if !ok {
		return 0
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(n, "="))
	if err != nil {
		return 0
	}
	return new(big.Int).SetBytes(raw).BitLen()
}
