package ids

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	ODRLContext = "http://www.w3.org/ns/odrl.jsonld"
	PolicyType  = "Set"
)

type Constraint struct {
	LeftOperand  string `json:"leftOperand"`
	Operator     string `json:"operator"`
	RightOperand string `json:"rightOperand"`
}

type Permission struct {
	Target     string       `json:"target,omitempty"`
	Action     string       `json:"action"`
	Constraint []Constraint `json:"constraint,omitempty"`
}

// UsagePolicy is an ODRL 2.0 policy document.
type UsagePolicy struct {
	Context    string       `json:"@context"`
	Type       string       `json:"@type"`
	UID        string       `json:"uid"`
	Permission []Permission `json:"permission"`
}

// BuildUsagePolicy grants action on target, limited to durationDays of
// elapsed time when durationDays is positive.
func BuildUsagePolicy(target, action string, durationDays int) UsagePolicy {
	perm := Permission{Target: target, Action: action}
	if durationDays > 0 {
		perm.Constraint = []Constraint{{
			LeftOperand:  "elapsedTime",
			Operator:     "lteq",
			RightOperand: fmt.Sprintf("P%dD", durationDays),
		}}
	}
	return UsagePolicy{
		Context:    ODRLContext,
		Type:       PolicyType,
		UID:        "urn:ids:policy:" + uuid.NewString(),
		Permission: []Permission{perm},
	}
}
