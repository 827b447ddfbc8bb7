// Package rules provides the CEL-Go based fraud heuristic engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/formationhq/riskgate/internal/domain"
)

// Engine evaluates the configured battery of CEL heuristics against a
// feature set. Evaluation is pure and total: expression failures surface
// as untriggered signals with the error recorded as evidence, never as a
// panic or an error return.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.SignalConfig
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the extracted features
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("account_age_days", cel.DoubleType),
		cel.Variable("prior_orders", cel.IntType),
		cel.Variable("prior_chargebacks", cel.IntType),
		cel.Variable("order_value", cel.DoubleType),
		cel.Variable("velocity_count", cel.IntType),
		cel.Variable("disposable_email", cel.BoolType),
		cel.Variable("prepaid_instrument", cel.BoolType),
		cel.Variable("geo_mismatch", cel.BoolType),
		cel.Variable("high_risk_origin", cel.BoolType),
		cel.Variable("bad_actor_hit", cel.BoolType),
		cel.Variable("implausible_identity", cel.BoolType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("instrument_category", cel.StringType),
		cel.Variable("billing_country", cel.StringType),
		cel.Variable("origin_country", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.SignalConfig) error {
	if cfg == nil {
		return fmt.Errorf("signal config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.SignalConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.SignalConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll evaluates all loaded rules against the feature set in
// parallel and returns one signal per rule, ordered by rule name.
func (e *Engine) EvaluateAll(ctx context.Context, features *domain.FeatureSet) ([]domain.Signal, error) {
	if features == nil {
		return nil, fmt.Errorf("feature set is required")
	}

	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := buildActivation(features)

	results := make([]domain.Signal, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	// Stable ordering keeps the persisted signal set reproducible.
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})

	return results, nil
}

// evaluateRule evaluates a single rule and returns its signal.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.Signal {
	signal := domain.Signal{
		Name:     rule.Config.Name,
		Weight:   rule.Config.Weight,
		Severity: rule.Config.Severity,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		signal.Triggered = false
		signal.Evidence = fmt.Sprintf("evaluation error: %v", err)
		return signal
	}

	signal.Triggered = toBool(out)
	if signal.Triggered {
		signal.Evidence = rule.Config.Evidence
	}

	return signal
}

// buildActivation maps the feature set into CEL variables.
func buildActivation(fs *domain.FeatureSet) map[string]any {
	return map[string]any{
		"features": map[string]any{
			"order_id":    fs.OrderID,
			"customer_id": fs.CustomerID,
		},
		"account_age_days":     fs.AccountAgeDays,
		"prior_orders":         fs.PriorOrders,
		"prior_chargebacks":    fs.PriorChargebacks,
		"order_value":          fs.OrderValue,
		"velocity_count":       fs.VelocityCount,
		"disposable_email":     fs.DisposableEmail,
		"prepaid_instrument":   fs.PrepaidInstrument,
		"geo_mismatch":         fs.GeoMismatch,
		"high_risk_origin":     fs.HighRiskOrigin,
		"bad_actor_hit":        fs.BadActorHit,
		"implausible_identity": fs.ImplausibleIdentity,
		"currency":             fs.Currency,
		"instrument_category":  fs.InstrumentCategory,
		"billing_country":      fs.BillingCountry,
		"origin_country":       fs.OriginCountry,
	}
}

// toBool converts a CEL value to a triggered flag.
func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of the battery from the ledger.
func (e *Engine) ReloadRules(configs []*domain.SignalConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.SignalConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.SignalConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.SignalConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
