package policy

import (
	"time"

	"github.com/pockitect/pockitect/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but does not block the operation.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"

	// SeverityCritical blocks the operation and is logged at error level.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Operations evaluated by the guard.
const (
	OperationTerminate = "terminate"
	OperationPower     = "power"
)

// Policy is one Rego module. Its deny set is queried at
// data.<package>.deny.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to deny entries that do not carry their own.
	Severity Severity `json:"severity"`

	Enabled bool `json:"enabled"`

	// Builtin policies cannot be replaced by a reload.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was read from.
	Source string `json:"source,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Violation is one deny entry.
type Violation struct {
	Policy   string   `json:"policy"`
	Resource string   `json:"resource,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Decision is the result of evaluating every enabled policy for one input.
type Decision struct {
	Allowed           bool          `json:"allowed"`
	Violations        []Violation   `json:"violations,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
	EvaluatedPolicies []string      `json:"evaluated_policies"`
	Duration          time.Duration `json:"duration"`
}

// Reason joins the blocking violation messages.
func (d *Decision) Reason() string {
	msg := ""
	for _, v := range d.Violations {
		if !v.Severity.Blocking() {
			continue
		}
		if msg != "" {
			msg += "; "
		}
		msg += v.Message
	}
	return msg
}

// ResourceInput is the resource as policies see it.
type ResourceInput struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Region  string                 `json:"region"`
	Tags    map[string]string      `json:"tags"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Input is the document bound to `input` during evaluation.
type Input struct {
	Resource  ResourceInput `json:"resource"`
	Project   string        `json:"project,omitempty"`
	Operation string        `json:"operation"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewInput builds the input for one operation on res.
func NewInput(operation, project string, res engine.Resource) Input {
	tags := res.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return Input{
		Resource: ResourceInput{
			ID:      res.ID,
			Type:    string(res.Type),
			Region:  res.Region,
			Tags:    tags,
			Details: res.Details,
		},
		Project:   project,
		Operation: operation,
		Timestamp: time.Now().UTC(),
	}
}
