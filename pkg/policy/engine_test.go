package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func resource(id string, typ engine.ResourceType, tags map[string]string) engine.Resource {
	return engine.Resource{
		ResourceRef: engine.ResourceRef{ID: id, Type: typ, Region: "us-east-1"},
		Tags:        tags,
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	for _, name := range []string{"protected-resources", "global-identity"} {
		p, err := eng.GetPolicy(name)
		if err != nil {
			t.Fatalf("Expected built-in policy %s: %v", name, err)
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("Policy %s should be an enabled builtin", name)
		}
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name        string
		operation   string
		project     string
		res         engine.Resource
		wantAllowed bool
		wantReason  string
	}{
		{
			name:        "untagged instance",
			operation:   OperationTerminate,
			project:     "web",
			res:         resource("i-1", engine.TypeInstance, nil),
			wantAllowed: true,
		},
		{
			name:        "protected instance",
			operation:   OperationTerminate,
			project:     "web",
			res:         resource("i-1", engine.TypeInstance, map[string]string{engine.TagProtected: "True"}),
			wantAllowed: false,
			wantReason:  "ec2_instance i-1 is protected",
		},
		{
			name:        "protected tag set to false",
			operation:   OperationTerminate,
			project:     "web",
			res:         resource("i-1", engine.TypeInstance, map[string]string{engine.TagProtected: "false"}),
			wantAllowed: true,
		},
		{
			name:        "protected but only powered",
			operation:   OperationPower,
			project:     "web",
			res:         resource("i-1", engine.TypeInstance, map[string]string{engine.TagProtected: "true"}),
			wantAllowed: true,
		},
		{
			name:        "role without project",
			operation:   OperationTerminate,
			res:         resource("app-role", engine.TypeRole, nil),
			wantAllowed: false,
			wantReason:  "iam role app-role requires a project to terminate",
		},
		{
			name:        "role with project",
			operation:   OperationTerminate,
			project:     "web",
			res:         resource("app-role", engine.TypeRole, nil),
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := eng.Evaluate(context.Background(), NewInput(tt.operation, tt.project, tt.res))
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if decision.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (violations: %+v)", decision.Allowed, tt.wantAllowed, decision.Violations)
			}
			if got := decision.Reason(); got != tt.wantReason {
				t.Errorf("Reason() = %q, want %q", got, tt.wantReason)
			}
		})
	}
}

func TestSetPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	user := []Policy{
		{
			Name:    "no-prod",
			Enabled: true,
			Rego: `package custom.prod

import rego.v1

deny contains "prod resources are removed by hand" if {
	input.resource.tags.env == "prod"
}`,
		},
		{
			Name:    "warn-db",
			Enabled: true,
			Rego: `package custom.db

import rego.v1

deny contains {"message": "database termination", "severity": "warning"} if {
	input.resource.type == "rds_instance"
}`,
		},
	}
	if err := eng.SetPolicies(ctx, user); err != nil {
		t.Fatalf("SetPolicies failed: %v", err)
	}

	decision, err := eng.Evaluate(ctx, NewInput(OperationTerminate, "web",
		resource("db-1", engine.TypeDBInstance, map[string]string{"env": "prod"})))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if decision.Allowed {
		t.Fatal("prod resource should be denied")
	}
	if len(decision.Violations) != 2 {
		t.Fatalf("Expected 2 violations, got %+v", decision.Violations)
	}
	if got := decision.Reason(); got != "prod resources are removed by hand" {
		t.Errorf("Reason() = %q", got)
	}

	decision, err = eng.Evaluate(ctx, NewInput(OperationTerminate, "web", resource("db-2", engine.TypeDBInstance, nil)))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.Allowed || len(decision.Violations) != 1 {
		t.Errorf("warning-only policy should allow: %+v", decision)
	}

	if len(eng.ListPolicies()) != 4 {
		t.Errorf("Expected 4 policies, got %d", len(eng.ListPolicies()))
	}
}

func TestSetPolicies_CompileErrorKeepsPrevious(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	good := Policy{Name: "good", Enabled: true, Rego: "package good\n\nimport rego.v1\n\ndeny contains \"no\" if { input.resource.id == \"x\" }"}
	if err := eng.SetPolicies(ctx, []Policy{good}); err != nil {
		t.Fatalf("SetPolicies failed: %v", err)
	}

	bad := Policy{Name: "bad", Enabled: true, Rego: "package bad\n\ndeny contains if {"}
	err := eng.SetPolicies(ctx, []Policy{bad})
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("Expected compile error naming the policy, got %v", err)
	}

	if _, err := eng.GetPolicy("good"); err != nil {
		t.Errorf("previous policy set should stay active: %v", err)
	}
}

func TestDisabledPolicyIsSkipped(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	off := Policy{Name: "off", Rego: "package off\n\nimport rego.v1\n\ndeny contains \"always\" if { true }"}
	if err := eng.SetPolicies(ctx, []Policy{off}); err != nil {
		t.Fatalf("SetPolicies failed: %v", err)
	}

	decision, err := eng.Evaluate(ctx, NewInput(OperationTerminate, "web", resource("vpc-1", engine.TypeVPC, nil)))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !decision.Allowed {
		t.Error("disabled policy should not deny")
	}
	for _, name := range decision.EvaluatedPolicies {
		if name == "off" {
			t.Error("disabled policy was evaluated")
		}
	}
}
