// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sertest evaluates acceptance rules against decoded packets to decide
// whether a serial port is connected to the expected VE.Direct device.
package sertest

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Thermoquad/vestat/pkg/vedirect"
)

// Rule types accepted in the typeTest field
const (
	TypeValue   = "value"
	TypeColumns = "columns"
)

// MaxNameLength is the maximum length of a rule name
const MaxNameLength = 30

var (
	namePattern = regexp.MustCompile(`^[a-zA-Z\d]+(?:_[a-zA-Z\d]+)*$`)
	keyPattern  = regexp.MustCompile(`^[a-zA-Z\d#]+(?:_[a-zA-Z\d#]+)*$`)
)

// RuleConfig is the configuration form of a rule, as found under [serialTest.<name>]
type RuleConfig struct {
	TypeTest string   `toml:"typeTest" json:"typeTest"`
	Key      string   `toml:"key,omitempty" json:"key,omitempty"`
	Value    *string  `toml:"value,omitempty" json:"value,omitempty"`
	Keys     []string `toml:"keys,omitempty" json:"keys,omitempty"`
}

// Rule is a validated acceptance rule.
// A value rule holds Key and Value, a columns rule holds Keys.
type Rule struct {
	Name  string
	Type  string
	Key   string
	Value string
	Keys  []string
}

// ValueRule creates a rule matching key == value
func ValueRule(name, key, value string) Rule {
	return Rule{Name: name, Type: TypeValue, Key: key, Value: value}
}

// ColumnsRule creates a rule requiring every key to be present
func ColumnsRule(name string, keys ...string) Rule {
	return Rule{Name: name, Type: TypeColumns, Keys: slices.Clone(keys)}
}

// Evaluate reports whether the packet passes the rule
func (r Rule) Evaluate(p *vedirect.Packet) bool {
	if p == nil {
		return false
	}
	switch r.Type {
	case TypeValue:
		v, ok := p.Get(r.Key)
		return ok && v == r.Value
	case TypeColumns:
		for _, k := range r.Keys {
			if !p.Has(k) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String returns a short description of the rule
func (r Rule) String() string {
	switch r.Type {
	case TypeValue:
		return fmt.Sprintf("%s: %s == %q", r.Name, r.Key, r.Value)
	case TypeColumns:
		return fmt.Sprintf("%s: has [%s]", r.Name, strings.Join(r.Keys, ","))
	default:
		return r.Name + ": invalid"
	}
}

// Rules is a set of acceptance rules, ordered by name
type Rules []Rule

// Evaluate returns true when every rule passes. An empty set accepts any packet.
func (rs Rules) Evaluate(p *vedirect.Packet) bool {
	for _, r := range rs {
		if !r.Evaluate(p) {
			return false
		}
	}
	return true
}

// Failed returns the names of the rules the packet does not pass
func (rs Rules) Failed(p *vedirect.Packet) []string {
	var failed []string
	for _, r := range rs {
		if !r.Evaluate(p) {
			failed = append(failed, r.Name)
		}
	}
	return failed
}

// Parse validates rule configurations. Any invalid entry fails the whole set
// with a setting invalid error.
func Parse(configs map[string]RuleConfig) (Rules, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	slices.Sort(names)

	rules := make(Rules, 0, len(names))
	for _, name := range names {
		rule, err := parseRule(name, configs[name])
		if err != nil {
			return nil, vedirect.NewError(vedirect.KindSettingInvalid, "serialTest", err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parseRule(name string, c RuleConfig) (Rule, error) {
	if len(name) > MaxNameLength || !namePattern.MatchString(name) {
		return Rule{}, fmt.Errorf("invalid rule name %q: must match [a-zA-Z0-9_] and be at most %d characters", name, MaxNameLength)
	}

	switch c.TypeTest {
	case TypeValue:
		if !keyPattern.MatchString(c.Key) {
			return Rule{}, fmt.Errorf("rule %s: invalid key %q", name, c.Key)
		}
		if c.Value == nil {
			return Rule{}, fmt.Errorf("rule %s: missing value", name)
		}
		return ValueRule(name, c.Key, *c.Value), nil

	case TypeColumns:
		if len(c.Keys) == 0 {
			return Rule{}, fmt.Errorf("rule %s: missing keys", name)
		}
		for _, k := range c.Keys {
			if !keyPattern.MatchString(k) {
				return Rule{}, fmt.Errorf("rule %s: invalid key %q", name, k)
			}
		}
		return ColumnsRule(name, c.Keys...), nil

	default:
		return Rule{}, fmt.Errorf("rule %s: unrecognized typeTest %q, must be %q or %q", name, c.TypeTest, TypeValue, TypeColumns)
	}
}
