package catalog

import (
	"fmt"
	"strings"
)

// ResourceType represents a resource type in the platform
type ResourceType string

const (
	ResourceCourse     ResourceType = "Course"
	ResourceLesson     ResourceType = "Lesson"
	ResourceUser       ResourceType = "User"
	ResourceEnrollment ResourceType = "Enrollment"

	// ResourceWildcard matches any resource type in permission comparisons
	ResourceWildcard ResourceType = "*"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate Action = "Create"
	ActionRead   Action = "Read"
	ActionUpdate Action = "Update"
	ActionDelete Action = "Delete"
	ActionEnroll Action = "Enroll"
	ActionGrade  Action = "Grade"
)

// Permission represents a specific permission (resource + action).
// It is an immutable value; the zero value is not a valid permission.
type Permission struct {
	Resource ResourceType `json:"resource"`
	Action   Action       `json:"action"`
}

// String returns the policy-name form of the permission, e.g. "Course.Delete"
func (p Permission) String() string {
	return string(p.Resource) + "." + string(p.Action)
}

// IsZero reports whether the permission is the zero value
func (p Permission) IsZero() bool {
	return p.Resource == "" && p.Action == ""
}

// Covers reports whether a grant of p satisfies the required permission.
// A wildcard resource grant covers any resource for the same action.
func (p Permission) Covers(required Permission) bool {
	if p.Action != required.Action {
		return false
	}
	return p.Resource == required.Resource || p.Resource == ResourceWildcard
}

// knownResources and knownActions define the catalog accepted by Parse.
var knownResources = map[ResourceType]bool{
	ResourceCourse:     true,
	ResourceLesson:     true,
	ResourceUser:       true,
	ResourceEnrollment: true,
	ResourceWildcard:   true,
}

var knownActions = map[Action]bool{
	ActionCreate: true,
	ActionRead:   true,
	ActionUpdate: true,
	ActionDelete: true,
	ActionEnroll: true,
	ActionGrade:  true,
}

// Parse parses a policy name of the form "Resource.Action" into a Permission
func Parse(s string) (Permission, error) {
	idx := strings.LastIndex(s, ".")
	if idx <= 0 || idx == len(s)-1 {
		return Permission{}, fmt.Errorf("invalid permission %q: expected Resource.Action", s)
	}

	perm := Permission{
		Resource: ResourceType(s[:idx]),
		Action:   Action(s[idx+1:]),
	}

	if !knownResources[perm.Resource] {
		return Permission{}, fmt.Errorf("invalid permission %q: unknown resource %q", s, perm.Resource)
	}
	if !knownActions[perm.Action] {
		return Permission{}, fmt.Errorf("invalid permission %q: unknown action %q", s, perm.Action)
	}

	return perm, nil
}

// MustParse is like Parse but panics on invalid input. Intended for
// compile-time-constant permission names in route tables and tests.
func MustParse(s string) Permission {
	perm, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return perm
}

// GrantSatisfies reports whether any permission name in grants covers the
// required permission. Grant names that fail to parse are skipped; a stored
// grant from an older catalog version must not break evaluation of the rest.
func GrantSatisfies(grants []string, required Permission) (string, bool) {
	for _, g := range grants {
		perm, err := Parse(g)
		if err != nil {
			continue
		}
		if perm.Covers(required) {
			return g, true
		}
	}
	return "", false
}

// NormalizeSet deduplicates and validates a list of permission names,
// returning them in a stable order
func NormalizeSet(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		perm, err := Parse(name)
		if err != nil {
			return nil, err
		}
		key := perm.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out, nil
}
