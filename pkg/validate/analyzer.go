package validate

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmetrics/pkg/model"
)

// JoinGraphRuleID identifies the diagnostic returned when the join graph
// cannot be built.
const JoinGraphRuleID = "join-graph"

// Analyzer runs the registered rules against a project.
type Analyzer struct {
	config *Config
	logger *slog.Logger
}

// NewAnalyzer creates a new analyzer with optional configuration.
func NewAnalyzer(config *Config, logger *slog.Logger) *Analyzer {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{config: config, logger: logger}
}

// Analyze validates p. Diagnostics are ordered by the object they concern;
// a message already reported is not repeated.
func (a *Analyzer) Analyze(p *model.Project) []Diagnostic {
	if p == nil {
		return nil
	}
	if _, err := p.JoinGraph(); err != nil {
		return []Diagnostic{{RuleID: JoinGraphRuleID, Severity: SeverityError, Message: err.Error()}}
	}

	rules := make(map[Kind][]RuleDef)
	for _, rule := range GetAll() {
		if a.config.IsDisabled(rule.ID) {
			continue
		}
		rules[rule.Kind] = append(rules[rule.Kind], rule)
	}

	r := &run{analyzer: a, seen: make(map[string]bool)}
	r.check(rules[KindProject], &Context{Project: p})
	for _, m := range p.ListModels() {
		r.check(rules[KindModel], &Context{Project: p, Model: m})
	}
	for _, v := range p.ListViews() {
		if v.JoinAsOf() != "" {
			continue
		}
		ctx := &Context{Project: p, Model: v.Model(), View: v}
		r.check(rules[KindView], ctx)
		for _, f := range v.Fields {
			r.check(rules[KindField], &Context{Project: p, Model: ctx.Model, View: v, Field: f})
		}
		for _, id := range v.Identifiers {
			r.check(rules[KindIdentifier], &Context{Project: p, Model: ctx.Model, View: v, Identifier: id})
		}
	}
	for _, t := range p.ListTopics() {
		r.check(rules[KindTopic], &Context{Project: p, Topic: t})
	}
	for _, d := range p.ListDashboards() {
		r.check(rules[KindDashboard], &Context{Project: p, Dashboard: d})
	}

	a.logger.Debug("validated project", "diagnostics", len(r.out))
	return r.out
}

type run struct {
	analyzer *Analyzer
	seen     map[string]bool
	out      []Diagnostic
}

func (r *run) check(rules []RuleDef, ctx *Context) {
	for _, rule := range rules {
		for _, d := range r.safeCheck(rule, ctx) {
			d.RuleID = rule.ID
			d.Severity = r.analyzer.config.GetSeverity(rule.ID, rule.Severity)
			msg := strings.TrimSpace(strings.TrimPrefix(d.Message, WarningPrefix))
			if d.Severity == SeverityWarning {
				msg = WarningPrefix + " " + msg
			}
			d.Message = msg
			if r.seen[msg] {
				continue
			}
			r.seen[msg] = true
			r.out = append(r.out, d)
		}
	}
}

// safeCheck runs one rule, reporting a panic as a diagnostic so the other
// objects are still checked.
func (r *run) safeCheck(rule RuleDef, ctx *Context) (diags []Diagnostic) {
	defer func() {
		if rec := recover(); rec != nil {
			r.analyzer.logger.Warn("validation rule failed", "rule", rule.ID, "panic", rec)
			diags = []Diagnostic{ctx.Errorf("", "Rule %s (%s) could not check this object: %v", rule.ID, rule.Name, rec)}
		}
	}()
	return rule.Check(ctx)
}

// Errors returns the diagnostics that are not warnings.
func Errors(diags []Diagnostic) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// String formats d as file:line:column: message.
func (d Diagnostic) String() string {
	if d.File == "" {
		return d.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", d.File, d.Line, d.Column, d.Message)
}
