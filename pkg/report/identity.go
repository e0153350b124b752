package report

import (
	"fmt"
	"strings"

	"github.com/petrijr/arbor/pkg/api"
)

// IdentityPolicy decides which candidate Node a running action is.
type IdentityPolicy int

const (
	// ByID matches on the identifier stamped on every action at
	// construction.
	ByID IdentityPolicy = iota

	// ByName matches on the description. Siblings that render identically
	// cannot be told apart and yield an *AmbiguousNodeError.
	ByName
)

func (p IdentityPolicy) String() string {
	switch p {
	case ByID:
		return "id"
	case ByName:
		return "name"
	default:
		return fmt.Sprintf("IdentityPolicy(%d)", int(p))
	}
}

// ParseIdentityPolicy is the inverse of IdentityPolicy.String. The empty
// string selects ByID.
func ParseIdentityPolicy(s string) (IdentityPolicy, error) {
	switch s {
	case "", "id":
		return ByID, nil
	case "name":
		return ByName, nil
	default:
		return ByID, fmt.Errorf("unknown identity policy %q", s)
	}
}

func (p IdentityPolicy) matches(n *Node, a *api.Action) bool {
	if p == ByName {
		return n.Description == a.Description()
	}
	return n.Action.ID() == a.ID()
}

// AmbiguousNodeError is returned when more than one candidate Node matches a
// running action.
type AmbiguousNodeError struct {
	Parent     string
	Action     string
	Candidates []string
}

func (e *AmbiguousNodeError) Error() string {
	return fmt.Sprintf("more than one candidate node found for %q under %s (%s); give the ambiguous actions distinct names",
		e.Action, e.Parent, strings.Join(e.Candidates, ", "))
}

func (e *AmbiguousNodeError) ProgrammingError() {}

// MissingNodeError is returned when no Node matches a running action, which
// happens when the reporter was built for a different tree.
type MissingNodeError struct {
	Parent string
	Action string
}

func (e *MissingNodeError) Error() string {
	return fmt.Sprintf("no node found for %q under %s; was the reporter built for this tree?", e.Action, e.Parent)
}

func (e *MissingNodeError) ProgrammingError() {}

// resolve picks the child of parent that a is, or the root when parent is
// nil.
func (p IdentityPolicy) resolve(root, parent *Node, a *api.Action) (*Node, error) {
	if parent == nil {
		if p.matches(root, a) {
			return root, nil
		}
		return nil, &MissingNodeError{Parent: "the root", Action: a.Description()}
	}

	var found []*Node
	for _, c := range parent.Children {
		if p.matches(c, a) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, &MissingNodeError{Parent: parent.Path, Action: a.Description()}
	case 1:
		return found[0], nil
	default:
		paths := make([]string, len(found))
		for i, n := range found {
			paths[i] = n.Path
		}
		return nil, &AmbiguousNodeError{Parent: parent.Path, Action: a.Description(), Candidates: paths}
	}
}
