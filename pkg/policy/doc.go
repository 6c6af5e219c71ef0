// Package policy guards destructive operations with Open Policy Agent.
//
// Every resource a terminate command would delete is evaluated against the
// enabled policies before the dependency graph is built. A policy is a Rego
// module whose deny set lives at data.<package>.deny; each entry is either a
// message string or an object:
//
//	package pockitect.policies.custom
//
//	import rego.v1
//
//	deny contains violation if {
//		input.operation == "terminate"
//		input.resource.tags.env == "prod"
//		violation := {"message": "prod resources are terminated by hand", "severity": "error"}
//	}
//
// The input document carries the resource (id, type, region, tags,
// details), the requesting project and the operation name. Entries with
// severity error or critical block the operation; warning entries are
// reported only.
//
// Two builtin policies are always loaded: resources tagged
// pockitect:protected=true are never terminated, and identity roles are
// only terminated for a named project. User policies are read from a
// directory of .rego or .json files and reloaded when those files change.
package policy
