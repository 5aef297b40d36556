// Package routing models the rule map of a conditional router.
//
// A router processor holds one dynamic property per rule (rule name to
// predicate expression) plus a strategy property. Rule routing is only
// active while the strategy equals a sentinel value. Each committed rule
// becomes a relationship of the same name.
package routing

import (
	"sort"

	"github.com/randalmurphal/flowdeploy/pkg/flowdeploy/template"
)

// Defaults for the standard attribute router.
const (
	DefaultRouterType       = "org.apache.nifi.processors.standard.RouteOnAttribute"
	DefaultStrategyProperty = "Routing Strategy"
	DefaultRuleStrategy     = "Route to Property name"
	DefaultAttribute        = "hierarchy.target"
	DefaultPredicate        = "${$attribute:equalsIgnoreCase('$name')}"
)

// RuleSet is the routing-relevant state of a router.
type RuleSet struct {
	Rules    map[string]string
	Strategy string
}

// Dialect names the router properties and sentinel value.
type Dialect struct {
	StrategyProperty string
	RuleStrategy     string
}

// DefaultDialect matches the standard attribute router.
var DefaultDialect = Dialect{
	StrategyProperty: DefaultStrategyProperty,
	RuleStrategy:     DefaultRuleStrategy,
}

// FromProperties splits a router's properties into rules and strategy.
// Every property other than the strategy property is a rule.
func (d Dialect) FromProperties(props map[string]string) RuleSet {
	rs := RuleSet{Rules: make(map[string]string, len(props))}
	for k, v := range props {
		if k == d.StrategyProperty {
			rs.Strategy = v
			continue
		}
		rs.Rules[k] = v
	}
	return rs
}

// ToProperties renders rs as a property map.
func (d Dialect) ToProperties(rs RuleSet) map[string]string {
	props := make(map[string]string, len(rs.Rules)+1)
	for k, v := range rs.Rules {
		props[k] = v
	}
	props[d.StrategyProperty] = rs.Strategy
	return props
}

// RuleBased reports whether rs routes by rule under d.
func (d Dialect) RuleBased(rs RuleSet) bool {
	return rs.Strategy == d.RuleStrategy
}

// Has reports whether a rule named name exists.
func (rs RuleSet) Has(name string) bool {
	_, ok := rs.Rules[name]
	return ok
}

// Names returns the rule names sorted.
func (rs RuleSet) Names() []string {
	names := make([]string, 0, len(rs.Rules))
	for k := range rs.Rules {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of rs.
func (rs RuleSet) Clone() RuleSet {
	c := RuleSet{Strategy: rs.Strategy, Rules: make(map[string]string, len(rs.Rules))}
	for k, v := range rs.Rules {
		c.Rules[k] = v
	}
	return c
}

// Merge adds the rules of desired missing from existing and adopts desired's
// strategy when it is set. Existing rules are never overwritten, so merging
// the same desired set twice changes nothing the second time. Neither input
// is modified.
func Merge(existing, desired RuleSet) (RuleSet, bool) {
	updated := existing.Clone()
	changed := false
	for name, pred := range desired.Rules {
		if _, ok := updated.Rules[name]; ok {
			continue
		}
		updated.Rules[name] = pred
		changed = true
	}
	if desired.Strategy != "" && updated.Strategy != desired.Strategy {
		updated.Strategy = desired.Strategy
		changed = true
	}
	return updated, changed
}

// PredicateBuilder renders rule predicates from a template.
type PredicateBuilder struct {
	Template  string
	Attribute string
	expander  *template.Expander
}

// NewPredicateBuilder creates a builder. Empty arguments take the defaults.
func NewPredicateBuilder(tmpl, attribute string) *PredicateBuilder {
	if tmpl == "" {
		tmpl = DefaultPredicate
	}
	if attribute == "" {
		attribute = DefaultAttribute
	}
	return &PredicateBuilder{
		Template:  tmpl,
		Attribute: attribute,
		expander:  template.NewExpander(),
	}
}

// Build returns the predicate selecting traffic tagged for name.
func (b *PredicateBuilder) Build(name string) string {
	return b.expander.MustExpand(b.Template, map[string]any{
		"attribute": b.Attribute,
		"name":      template.EscapeLiteral(name),
	})
}

// Desired returns the rule set a router needs to route name by rule.
func (b *PredicateBuilder) Desired(d Dialect, name string) RuleSet {
	return RuleSet{
		Rules:    map[string]string{name: b.Build(name)},
		Strategy: d.RuleStrategy,
	}
}
