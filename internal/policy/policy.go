// Package policy provides the SOP rules that gate auto-acceptance.
//
// A rule applies to one request type and carries a risk ceiling, a confidence
// floor, optional attribute conditions, and an explicit-verification flag.
// Rules are read-only at decision time; they change only through the
// administrative API.
package policy

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrRuleNotFound = errors.New("policy: rule not found")
)

// ConditionOp is the tagged operator for a rule condition. Free-form
// dict matching invites silent type mismatches; a closed operator set keeps
// rule authoring statically checkable.
type ConditionOp string

const (
	OpEquals ConditionOp = "equals"
	OpOneOf  ConditionOp = "one_of"
	OpExists ConditionOp = "exists"
)

// Condition is a single attribute check. A rule applies to a request only
// when every condition matches; a non-matching rule is skipped, not failed.
type Condition struct {
	Attribute string      `json:"attribute"`
	Op        ConditionOp `json:"op"`
	Values    []string    `json:"values,omitempty"`
}

// Matches evaluates the condition against request attributes.
func (c Condition) Matches(attrs map[string]string) bool {
	v, present := attrs[c.Attribute]
	switch c.Op {
	case OpExists:
		return present && v != ""
	case OpEquals:
		return present && len(c.Values) == 1 && v == c.Values[0]
	case OpOneOf:
		for _, want := range c.Values {
			if v == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// SOPRule gates one request type.
type SOPRule struct {
	ID                   string      `json:"id"`
	RequestType          string      `json:"requestType"`
	Name                 string      `json:"name"`
	Conditions           []Condition `json:"conditions,omitempty"`
	RequiredConfidence   float64     `json:"requiredConfidence"`
	MaxRiskLevel         int         `json:"maxRiskLevel"`
	RequiresVerification bool        `json:"requiresVerification"`
	Enabled              bool        `json:"enabled"`
	Position             int         `json:"position"` // lower = evaluated first
	CreatedAt            time.Time   `json:"createdAt"`
	UpdatedAt            time.Time   `json:"updatedAt"`
}

// ValidateRule checks rule fields and all conditions.
func ValidateRule(r *SOPRule) error {
	if r.RequestType == "" {
		return fmt.Errorf("policy: requestType is required")
	}
	if r.RequiredConfidence < 0 || r.RequiredConfidence > 1 {
		return fmt.Errorf("policy: requiredConfidence must be in [0,1], got %g", r.RequiredConfidence)
	}
	if r.MaxRiskLevel < 1 || r.MaxRiskLevel > 5 {
		return fmt.Errorf("policy: maxRiskLevel must be 1-5, got %d", r.MaxRiskLevel)
	}
	for i, c := range r.Conditions {
		if c.Attribute == "" {
			return fmt.Errorf("policy: condition[%d]: attribute is required", i)
		}
		switch c.Op {
		case OpEquals:
			if len(c.Values) != 1 {
				return fmt.Errorf("policy: condition[%d] equals: exactly one value required", i)
			}
		case OpOneOf:
			if len(c.Values) == 0 {
				return fmt.Errorf("policy: condition[%d] one_of: values must not be empty", i)
			}
		case OpExists:
			if len(c.Values) != 0 {
				return fmt.Errorf("policy: condition[%d] exists: values must be empty", i)
			}
		default:
			return fmt.Errorf("policy: condition[%d]: unknown op %q", i, c.Op)
		}
	}
	return nil
}
