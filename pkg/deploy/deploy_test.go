package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/cloud/memcloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

const webBlueprint = `
project:
  name: web
  region: us-east-1
resources:
  server:
    type: ec2_instance
    properties:
      image_id: ami-123
  net:
    type: vpc
    properties:
      cidr_block: 10.1.0.0/16
  public:
    type: subnet
  web-sg:
    type: security_group
    properties:
      ingress:
        - protocol: tcp
          from_port: 443
  assets:
    type: s3_bucket
    properties:
      name: web-assets
`

type fakeTracker struct {
	mu      sync.Mutex
	tracked []engine.TrackedResource
}

func (f *fakeTracker) Add(_ context.Context, res engine.TrackedResource) (engine.TrackedResource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, res)
	return res, nil
}

func mustParse(t *testing.T, doc string) *Blueprint {
	t.Helper()
	bp, err := ParseBlueprint([]byte(doc))
	if err != nil {
		t.Fatalf("ParseBlueprint failed: %v", err)
	}
	return bp
}

func newDeployer(provider cloud.Provider, tracker Tracker) *Deployer {
	return New(provider, tracker, Options{
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		Logger: zerolog.Nop(),
	})
}

func TestParseBlueprintErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad yaml", "project: [", "failed to parse template"},
		{"missing project name", "project: {region: x}\nresources: {}", "invalid blueprint"},
		{"missing type", "project: {name: p}\nresources:\n  a: {}", "invalid blueprint"},
		{"unknown type", "project: {name: p}\nresources:\n  a: {type: teapot}", "resource a"},
		{"not creatable", "project: {name: p}\nresources:\n  a: {type: iam_role}", "cannot be deployed"},
		{"unknown dependency", "project: {name: p}\nresources:\n  a: {type: vpc, depends_on: [b]}", "unknown resource"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBlueprint([]byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ParseBlueprint() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestOrderFollowsImplicitChain(t *testing.T) {
	layers, err := mustParse(t, webBlueprint).Order()
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}

	pos := make(map[string]int)
	for i, layer := range layers {
		for _, name := range layer {
			pos[name] = i
		}
	}
	for _, pair := range [][2]string{{"net", "public"}, {"public", "web-sg"}, {"web-sg", "server"}} {
		if pos[pair[0]] >= pos[pair[1]] {
			t.Errorf("%s (layer %d) must come before %s (layer %d)", pair[0], pos[pair[0]], pair[1], pos[pair[1]])
		}
	}
	if pos["assets"] != 0 {
		t.Errorf("assets has no parents, got layer %d", pos["assets"])
	}
}

func TestOrderRejectsCycles(t *testing.T) {
	bp := mustParse(t, `
project: {name: p}
resources:
  a: {type: s3_bucket, depends_on: [b]}
  b: {type: s3_bucket, depends_on: [a]}
`)
	_, err := bp.Order()
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodeValidation {
		t.Fatalf("Order() error = %v, want validation error", err)
	}
}

func TestDeploy(t *testing.T) {
	c := memcloud.New()
	tracker := &fakeTracker{}
	d := newDeployer(c, tracker)

	var messages []string
	result, err := d.Deploy(context.Background(), mustParse(t, webBlueprint), func(msg string, step, total int) {
		if total != 5 {
			t.Errorf("total = %d, want 5", total)
		}
		messages = append(messages, msg)
	})
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}

	if len(messages) != 5 || messages[0] == "" {
		t.Fatalf("progress messages = %v", messages)
	}
	if len(result.Resources) != 5 || len(tracker.tracked) != 5 {
		t.Fatalf("created %d, tracked %d; want 5", len(result.Resources), len(tracker.tracked))
	}

	byName := make(map[string]Created)
	for _, r := range result.Resources {
		byName[r.Name] = r
	}
	vpcID := byName["net"].Ref.ID
	if byName["public"].Parent != vpcID || byName["web-sg"].Parent != vpcID {
		t.Errorf("subnet and group parents = %q, %q; want %q", byName["public"].Parent, byName["web-sg"].Parent, vpcID)
	}

	inst, err := c.DescribeInstance(context.Background(), "us-east-1", byName["server"].Ref.ID)
	if err != nil {
		t.Fatalf("instance not created: %v", err)
	}
	if inst.InstanceType != "t2.micro" || inst.SubnetID != byName["public"].Ref.ID {
		t.Errorf("instance = %+v", inst)
	}
	if inst.Tags[engine.TagProject] != "web" || inst.Tags[engine.TagManaged] != "true" ||
		inst.Tags[engine.TagCreated] != "2026-03-01T12:00:00Z" || inst.Tags[engine.TagName] != "server" {
		t.Errorf("instance tags = %v", inst.Tags)
	}

	bucket := byName["assets"].Ref
	if bucket.ID != "web-assets" || bucket.Region != engine.GlobalRegion {
		t.Errorf("bucket ref = %+v", bucket)
	}

	for _, tr := range tracker.tracked {
		if tr.Project != "web" || tr.Status != engine.TrackedActive {
			t.Errorf("tracked %+v", tr)
		}
	}
}

func TestDeployAdoptsExistingSubnetAndGroup(t *testing.T) {
	c := memcloud.New()
	ctx := context.Background()
	vpc, _ := c.CreateVpc(ctx, "us-east-1", "10.0.0.0/16", nil)
	subnet, _ := c.CreateSubnet(ctx, "us-east-1", vpc.ID, "10.0.1.0/24", nil)
	group, _ := c.CreateSecurityGroup(ctx, "us-east-1", cloud.SecurityGroupSpec{Name: "app", VpcID: vpc.ID})

	bp := mustParse(t, `
project: {name: p, region: us-east-1}
resources:
  sub: {type: subnet, properties: {vpc_id: `+vpc.ID+`}}
  app: {type: security_group, properties: {vpc_id: `+vpc.ID+`}}
`)
	result, err := newDeployer(c, nil).Deploy(ctx, bp, nil)
	if err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	for _, r := range result.Resources {
		if !r.Adopted {
			t.Errorf("%s should have been adopted", r.Name)
		}
		if r.Ref.ID != subnet.ID && r.Ref.ID != group.ID {
			t.Errorf("%s adopted unexpected id %s", r.Name, r.Ref.ID)
		}
	}
}

func TestDeployStopsAtFirstFailure(t *testing.T) {
	c := memcloud.New()
	c.FailOn("CreateSubnet", "*", cloud.NewAPIError("UnauthorizedOperation", "denied"))
	tracker := &fakeTracker{}

	bp := mustParse(t, `
project: {name: p}
resources:
  net: {type: vpc}
  sub: {type: subnet}
  box: {type: ec2_instance, properties: {image_id: ami-1}}
`)
	result, err := newDeployer(c, tracker).Deploy(context.Background(), bp, nil)
	if err == nil || !strings.Contains(err.Error(), "failed to deploy sub") {
		t.Fatalf("Deploy() error = %v", err)
	}
	if len(result.Resources) != 1 || len(tracker.tracked) != 1 || result.Resources[0].Name != "net" {
		t.Errorf("resources before failure = %+v", result.Resources)
	}
}

func TestDeployInstanceNeedsImage(t *testing.T) {
	bp := mustParse(t, `
project: {name: p}
resources:
  net: {type: vpc}
  sub: {type: subnet}
  sg: {type: security_group}
  box: {type: ec2_instance}
`)
	_, err := newDeployer(memcloud.New(), nil).Deploy(context.Background(), bp, nil)
	if err == nil || !strings.Contains(err.Error(), "image_id") {
		t.Fatalf("Deploy() error = %v, want image_id error", err)
	}
}

func writeProject(t *testing.T, dir, slug, body string) string {
	t.Helper()
	path := filepath.Join(dir, slug+".yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRefresh(t *testing.T) {
	c := memcloud.New()
	c.Add("eu-west-1", cloud.Instance{ID: "i-1", State: cloud.InstanceStopped, PrivateIP: "10.0.0.5"})
	c.Add("eu-west-1", cloud.DBInstance{ID: "db-1", Status: cloud.DBAvailable, Endpoint: "db.example:5432"})

	dir := t.TempDir()
	path := writeProject(t, dir, "shop", `project:
  name: shop
  region: eu-west-1
compute:
  instance_id: i-1
  status: running
  public_ip: 1.2.3.4
data:
  db:
    identifier: db-1
    status: creating
`)

	updated, err := Refresh(context.Background(), c, dir, "shop", "us-east-1")
	if err != nil || !updated {
		t.Fatalf("Refresh() = %v, %v; want updated", updated, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	for _, want := range []string{"status: stopped", "private_ip: 10.0.0.5", "public_ip: null", "endpoint: db.example:5432", "status: available"} {
		if !strings.Contains(got, want) {
			t.Errorf("project file missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "project:") > strings.Index(got, "compute:") {
		t.Errorf("key order not preserved:\n%s", got)
	}

	updated, err = Refresh(context.Background(), c, dir, "shop", "us-east-1")
	if err != nil || updated {
		t.Errorf("second Refresh() = %v, %v; want unchanged", updated, err)
	}
}

func TestRefreshSkipsSkippedDatabase(t *testing.T) {
	c := memcloud.New()
	c.Add("us-east-1", cloud.DBInstance{ID: "db-1", Status: cloud.DBAvailable})
	dir := t.TempDir()
	writeProject(t, dir, "p", "data:\n  db:\n    identifier: db-1\n    status: skipped\n")

	updated, err := Refresh(context.Background(), c, dir, "p", "us-east-1")
	if err != nil || updated {
		t.Errorf("Refresh() = %v, %v; want unchanged", updated, err)
	}
}

func TestRefreshErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Refresh(context.Background(), memcloud.New(), dir, "missing", "us-east-1"); !errors.Is(err, ErrProjectNotFound) {
		t.Errorf("missing project error = %v", err)
	}
	if _, err := Refresh(context.Background(), memcloud.New(), dir, "../etc/passwd", "us-east-1"); err == nil {
		t.Error("path traversal must be rejected")
	}
}
