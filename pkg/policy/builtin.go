package policy

import (
	"time"

	"github.com/pockitect/pockitect/pkg/engine"
)

// BuiltinPolicies returns the policies that are always loaded.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectedResourcePolicy(),
		globalIdentityPolicy(),
	}
}

// protectedResourcePolicy denies terminating anything tagged
// pockitect:protected=true.
func protectedResourcePolicy() Policy {
	return Policy{
		Name:        "protected-resources",
		Description: "Resources tagged " + engine.TagProtected + "=true are never terminated",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		UpdatedAt:   time.Now(),
		Rego: `package pockitect.policies.protected

import rego.v1

deny contains violation if {
	input.operation == "terminate"
	value := input.resource.tags["` + engine.TagProtected + `"]
	lower(trim_space(value)) == "true"
	violation := {
		"message": sprintf("%s %s is protected", [input.resource.type, input.resource.id]),
		"resource": input.resource.id,
	}
}
`,
	}
}

// globalIdentityPolicy refuses to terminate identity roles on behalf of a
// request that names no project, since roles are account wide.
func globalIdentityPolicy() Policy {
	return Policy{
		Name:        "global-identity",
		Description: "Identity roles are only terminated for a named project",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		UpdatedAt:   time.Now(),
		Rego: `package pockitect.policies.identity

import rego.v1

deny contains violation if {
	input.operation == "terminate"
	input.resource.type == "` + string(engine.TypeRole) + `"
	object.get(input, "project", "") == ""
	violation := {
		"message": sprintf("iam role %s requires a project to terminate", [input.resource.id]),
		"resource": input.resource.id,
	}
}
`,
	}
}
