package governance

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of an action decision to be evaluated before
// dispatch.
type Request struct {
	Action  string
	Package string
	Text    string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates action decisions against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Rules is the YAML shape of a policy rule file.
type Rules struct {
	DeniedActions      []string `yaml:"denied_actions"`
	DeniedApps         []string `yaml:"denied_apps"`
	DeniedTextPatterns []string `yaml:"denied_text_patterns"`
}

// DefaultPolicyEngine is a basic implementation of PolicyEngine.
type DefaultPolicyEngine struct {
	DeniedActions map[string]bool
	DeniedApps    map[string]bool
	DeniedRegex   []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedActions: make(map[string]bool),
		DeniedApps:    make(map[string]bool),
		DeniedRegex:   make([]*regexp.Regexp, 0),
	}
}

// LoadPolicyEngine builds an engine from a YAML rule file.
func LoadPolicyEngine(path string) (*DefaultPolicyEngine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	engine := NewDefaultPolicyEngine()
	if err := engine.ApplyRules(rules); err != nil {
		return nil, err
	}
	return engine, nil
}

// ApplyRules adds every rule in the set to the engine.
func (e *DefaultPolicyEngine) ApplyRules(rules Rules) error {
	for _, a := range rules.DeniedActions {
		e.DenyAction(a)
	}
	for _, app := range rules.DeniedApps {
		e.DenyApp(app)
	}
	for _, p := range rules.DeniedTextPatterns {
		if err := e.DenyText(p); err != nil {
			return err
		}
	}
	return nil
}

func (e *DefaultPolicyEngine) DenyAction(name string) {
	e.DeniedActions[name] = true
}

func (e *DefaultPolicyEngine) DenyApp(pkg string) {
	e.DeniedApps[pkg] = true
}

func (e *DefaultPolicyEngine) DenyText(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedActions[req.Action] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Action '%s' is restricted by system policy", req.Action),
		}, nil
	}

	if req.Package != "" && e.DeniedApps[req.Package] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("App '%s' is restricted by system policy", req.Package),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if req.Text != "" && re.MatchString(req.Text) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Input text matches restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
