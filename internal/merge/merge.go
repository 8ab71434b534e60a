// Package merge resolves concurrent and hierarchical contributions to a
// single graph target. Every node carries a policy pair: the horizontal
// policy decides how concurrent assertions for the same target combine,
// the vertical policy decides whether a value asserted at one hierarchy
// level is inherited by related proxies and sub-contexts.
package merge

import (
	"fmt"
	"strconv"
)

// Horizontal combines concurrent assertions for one target.
type Horizontal string

const (
	// HorizontalOverwrite means the highest-version write wins
	// atomically. No reader ever observes a value between two
	// partial writes; the store enforces this with a conditional,
	// transactional write.
	HorizontalOverwrite Horizontal = "OVERWRITE"

	// HorizontalAggregate is declared by the policy surface but has no
	// defined combination algorithm yet. Resolving it is a
	// configuration error.
	HorizontalAggregate Horizontal = "AGGREGATE"
)

// Vertical decides value inheritance across the proxy hierarchy.
type Vertical string

const (
	VerticalParent Vertical = "PARENT"
	VerticalChild  Vertical = "CHILD"
)

// Policies is the policy pair carried by every graph node. A node must
// always carry one; emitting without it is a configuration error.
type Policies struct {
	Horizontal Horizontal `json:"horizontal"`
	Vertical   Vertical   `json:"vertical"`
}

// Validate rejects empty or unknown policies.
func (p Policies) Validate() error {
	switch p.Horizontal {
	case HorizontalOverwrite, HorizontalAggregate:
	case "":
		return fmt.Errorf("merge policy missing horizontal component")
	default:
		return fmt.Errorf("unknown horizontal merge policy %q", p.Horizontal)
	}

	switch p.Vertical {
	case VerticalParent, VerticalChild:
	case "":
		return fmt.Errorf("merge policy missing vertical component")
	default:
		return fmt.Errorf("unknown vertical merge policy %q", p.Vertical)
	}

	return nil
}

// InheritsDown reports whether values asserted at this level flow to
// related sub-contexts.
func (p Policies) InheritsDown() bool {
	return p.Vertical == VerticalParent
}

// Resolve decides whether an incoming assertion replaces the existing
// value for a target. Under OVERWRITE the higher version wins; equal
// versions keep the existing value, making retried writes idempotent.
func Resolve(p Policies, existingVersion, incomingVersion string) (useIncoming bool, err error) {
	if err := p.Validate(); err != nil {
		return false, err
	}

	switch p.Horizontal {
	case HorizontalOverwrite:
		return CompareVersions(incomingVersion, existingVersion) > 0, nil
	default:
		return false, fmt.Errorf("horizontal merge policy %q has no resolution algorithm", p.Horizontal)
	}
}

// CompareVersions orders version stamps. Versions are authored as
// monotonically advancing strings; purely numeric stamps compare as
// integers so "10" sorts above "9", anything else compares
// lexicographically.
func CompareVersions(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}

	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
