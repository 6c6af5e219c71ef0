package deleter

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/cloud/memcloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

const region = "us-east-1"

func ref(id string, t engine.ResourceType) engine.ResourceRef {
	return engine.ResourceRef{ID: id, Type: t, Region: region}
}

// setupDeleter returns a deleter over a fresh memory cloud driven by a fake clock.
func setupDeleter(t *testing.T, waits Waits) (*Deleter, *memcloud.Cloud, *retry.FakeClock) {
	t.Helper()

	c := memcloud.New()
	clock := retry.NewFakeClock(time.Unix(0, 0))
	d := New(c, Options{Waits: waits, Clock: clock, Logger: zerolog.Nop()})
	return d, c, clock
}

func reasonOf(t *testing.T, err error) engine.FailureReason {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error")
	}
	return engine.Reason(err)
}

func TestDeleteTwiceSucceeds(t *testing.T) {
	tests := []struct {
		name string
		seed func(c *memcloud.Cloud)
		ref  engine.ResourceRef
		// gone is false for types that linger in a terminal state.
		gone bool
	}{
		{
			name: "vpc",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.Vpc{ID: "vpc-1"}) },
			ref:  ref("vpc-1", engine.TypeVPC),
			gone: true,
		},
		{
			name: "subnet",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.Subnet{ID: "subnet-1", VpcID: "vpc-1"}) },
			ref:  ref("subnet-1", engine.TypeSubnet),
			gone: true,
		},
		{
			name: "security group",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.SecurityGroup{ID: "sg-1", Name: "web", VpcID: "vpc-1"}) },
			ref:  ref("sg-1", engine.TypeSecurityGroup),
			gone: true,
		},
		{
			name: "instance",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstanceRunning}) },
			ref:  ref("i-1", engine.TypeInstance),
		},
		{
			name: "volume",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.Volume{ID: "vol-1", State: cloud.VolumeAvailable}) },
			ref:  ref("vol-1", engine.TypeVolume),
			gone: true,
		},
		{
			name: "nat gateway",
			seed: func(c *memcloud.Cloud) {
				c.Add(region, cloud.NatGateway{ID: "nat-1", SubnetID: "subnet-1", State: cloud.NatGatewayAvailable})
			},
			ref: ref("nat-1", engine.TypeNatGateway),
		},
		{
			name: "database",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.DBInstance{ID: "db-1", Status: cloud.DBAvailable}) },
			ref:  ref("db-1", engine.TypeDBInstance),
			gone: true,
		},
		{
			name: "key pair",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.KeyPair{Name: "deploy"}) },
			ref:  ref("deploy", engine.TypeKeyPair),
			gone: true,
		},
		{
			name: "load balancer",
			seed: func(c *memcloud.Cloud) { c.Add(region, cloud.LoadBalancer{ID: "arn:lb/app/web", Name: "web"}) },
			ref:  ref("arn:lb/app/web", engine.TypeLoadBalancer),
			gone: true,
		},
		{
			name: "bucket",
			seed: func(c *memcloud.Cloud) { c.Add(engine.GlobalRegion, cloud.Bucket{Name: "assets"}) },
			ref:  engine.ResourceRef{ID: "assets", Type: engine.TypeBucket, Region: engine.GlobalRegion},
			gone: true,
		},
		{
			name: "role",
			seed: func(c *memcloud.Cloud) { c.Add(engine.GlobalRegion, cloud.Role{Name: "app"}) },
			ref:  engine.ResourceRef{ID: "app", Type: engine.TypeRole, Region: engine.GlobalRegion},
			gone: true,
		},
		{
			name: "never existed",
			seed: func(c *memcloud.Cloud) {},
			ref:  ref("igw-404", engine.TypeInternetGateway),
			gone: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, c, _ := setupDeleter(t, Waits{})
			tt.seed(c)
			ctx := context.Background()

			if err := d.Delete(ctx, tt.ref); err != nil {
				t.Fatalf("first Delete() error = %v", err)
			}
			if err := d.Delete(ctx, tt.ref); err != nil {
				t.Fatalf("second Delete() error = %v", err)
			}
			if tt.gone && c.Exists(tt.ref.Region, tt.ref.Type, tt.ref.ID) {
				t.Errorf("%s still exists", tt.ref)
			}
		})
	}
}

func TestDeleteUnsupportedType(t *testing.T) {
	d, _, _ := setupDeleter(t, Waits{})

	err := d.Delete(context.Background(), ref("w-1", engine.ResourceType("widget")))
	if got := reasonOf(t, err); got != engine.ReasonUnsupported {
		t.Errorf("Reason = %s, want %s", got, engine.ReasonUnsupported)
	}
	if Supports("widget") {
		t.Error("Supports(widget) = true")
	}
	for _, rt := range engine.AllResourceTypes() {
		if !Supports(rt) {
			t.Errorf("no deletion branch for %s", rt)
		}
	}
}

func TestDeletePreservesPermissionDenied(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.Vpc{ID: "vpc-1"})
	c.FailOn("DeleteVpc", "vpc-1", cloud.NewAPIError("UnauthorizedOperation", "You are not authorized"))

	err := d.Delete(context.Background(), ref("vpc-1", engine.TypeVPC))
	if got := reasonOf(t, err); got != engine.ReasonPermissionDenied {
		t.Fatalf("Reason = %s, want %s", got, engine.ReasonPermissionDenied)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.ProviderCode != "UnauthorizedOperation" {
		t.Errorf("provider code not preserved: %v", err)
	}
}

func TestDeleteInstanceWaitsForTermination(t *testing.T) {
	d, c, clock := setupDeleter(t, Waits{})
	c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstanceRunning})
	c.ScriptStates(region, engine.TypeInstance, "i-1",
		cloud.InstanceShuttingDown, cloud.InstanceShuttingDown, cloud.InstanceTerminated)

	if err := d.Delete(context.Background(), ref("i-1", engine.TypeInstance)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := len(clock.Sleeps()); got != 2 {
		t.Errorf("sleeps = %d, want 2", got)
	}
	for _, s := range clock.Sleeps() {
		if s != 5*time.Second {
			t.Errorf("sleep = %v, want 5s", s)
		}
	}
}

func TestDeleteInstanceVerifiesAfterTimeout(t *testing.T) {
	tests := []struct {
		name    string
		state   string
		wantErr bool
	}{
		{name: "still shutting down counts as terminated", state: cloud.InstanceShuttingDown},
		{name: "stuck instance times out", state: cloud.InstanceStopping, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, c, _ := setupDeleter(t, Waits{Instance: retry.Constant(3, 5*time.Second)})
			c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstanceRunning})
			c.ScriptStates(region, engine.TypeInstance, "i-1", tt.state)

			err := d.Delete(context.Background(), ref("i-1", engine.TypeInstance))
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("Delete() error = %v", err)
				}
				return
			}
			if got := reasonOf(t, err); got != engine.ReasonTimeout {
				t.Errorf("Reason = %s, want %s", got, engine.ReasonTimeout)
			}
			if got := c.CallCount("DescribeInstance", "i-1"); got != 4 {
				t.Errorf("DescribeInstance calls = %d, want 3 polls and 1 verification", got)
			}
		})
	}
}

func TestDeleteSecurityGroupClearsOwnRulesWhenStillReferenced(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.SecurityGroup{
		ID: "sg-1", Name: "web", VpcID: "vpc-1",
		Ingress: []cloud.Permission{{Protocol: "tcp", FromPort: 443, ToPort: 443, CIDRs: []string{"0.0.0.0/0"}}},
		Egress:  []cloud.Permission{{Protocol: "-1", CIDRs: []string{"0.0.0.0/0"}}},
	})
	c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstanceRunning, SecurityGroupIDs: []string{"sg-1"}})

	err := d.Delete(context.Background(), ref("sg-1", engine.TypeSecurityGroup))
	if got := reasonOf(t, err); got != engine.ReasonStillReferenced {
		t.Errorf("Reason = %s, want %s", got, engine.ReasonStillReferenced)
	}
	if !engine.IsRetryable(err) {
		t.Error("still referenced error should be retryable")
	}

	g, err := c.DescribeSecurityGroup(context.Background(), region, "sg-1")
	if err != nil {
		t.Fatalf("DescribeSecurityGroup() error = %v", err)
	}
	if len(g.Ingress) != 0 || len(g.Egress) != 0 {
		t.Errorf("rules left on group: ingress=%v egress=%v", g.Ingress, g.Egress)
	}
}

func TestDeleteSecurityGroupRevokesSiblingReferences(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.SecurityGroup{ID: "sg-app", Name: "app", VpcID: "vpc-1"})
	c.Add(region, cloud.SecurityGroup{
		ID: "sg-db", Name: "db", VpcID: "vpc-1",
		Ingress: []cloud.Permission{{
			Protocol: "tcp", FromPort: 5432, ToPort: 5432,
			CIDRs: []string{"10.0.0.0/16"}, GroupRefs: []string{"sg-app"},
		}},
	})

	if err := d.Delete(context.Background(), ref("sg-app", engine.TypeSecurityGroup)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.Exists(region, engine.TypeSecurityGroup, "sg-app") {
		t.Error("sg-app still exists")
	}

	db, err := c.DescribeSecurityGroup(context.Background(), region, "sg-db")
	if err != nil {
		t.Fatalf("DescribeSecurityGroup() error = %v", err)
	}
	if len(db.Ingress) != 1 || len(db.Ingress[0].GroupRefs) != 0 || len(db.Ingress[0].CIDRs) != 1 {
		t.Errorf("sg-db ingress = %+v, want only the CIDR source left", db.Ingress)
	}
}

func TestDeleteSecurityGroupSkipsDefault(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.SecurityGroup{ID: "sg-default", Name: cloud.DefaultGroupName, VpcID: "vpc-1"})

	if err := d.Delete(context.Background(), ref("sg-default", engine.TypeSecurityGroup)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := c.CallCount("DeleteSecurityGroup", "sg-default"); got != 0 {
		t.Errorf("DeleteSecurityGroup called %d times", got)
	}
}

func TestDeleteNetworkInterface(t *testing.T) {
	t.Run("primary is skipped", func(t *testing.T) {
		d, c, _ := setupDeleter(t, Waits{})
		c.Add(region, cloud.NetworkInterface{ID: "eni-0", Attachment: &cloud.Attachment{ID: "att-0", InstanceID: "i-1", DeviceIndex: 0}})

		if err := d.Delete(context.Background(), ref("eni-0", engine.TypeNetworkInterface)); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if !c.Exists(region, engine.TypeNetworkInterface, "eni-0") {
			t.Error("primary interface was deleted")
		}
		if got := c.CallCount("DetachNetworkInterface", "att-0"); got != 0 {
			t.Errorf("DetachNetworkInterface called %d times", got)
		}
	})

	t.Run("secondary is detached then deleted", func(t *testing.T) {
		d, c, clock := setupDeleter(t, Waits{})
		c.Add(region, cloud.NetworkInterface{ID: "eni-1", Attachment: &cloud.Attachment{ID: "att-1", InstanceID: "i-1", DeviceIndex: 1}})

		if err := d.Delete(context.Background(), ref("eni-1", engine.TypeNetworkInterface)); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if c.Exists(region, engine.TypeNetworkInterface, "eni-1") {
			t.Error("eni-1 still exists")
		}
		if sleeps := clock.Sleeps(); len(sleeps) != 1 || sleeps[0] != 2*time.Second {
			t.Errorf("sleeps = %v, want one detach settle", sleeps)
		}
	})

	t.Run("retried while in use", func(t *testing.T) {
		d, c, _ := setupDeleter(t, Waits{})
		c.Add(region, cloud.NetworkInterface{ID: "eni-2"})
		c.FailTimes("DeleteNetworkInterface", "eni-2", cloud.NewAPIError("InvalidNetworkInterface.InUse", "in use"), 2)

		if err := d.Delete(context.Background(), ref("eni-2", engine.TypeNetworkInterface)); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if got := c.CallCount("DeleteNetworkInterface", "eni-2"); got != 3 {
			t.Errorf("DeleteNetworkInterface calls = %d, want 3", got)
		}
	})

	t.Run("bounded attempts", func(t *testing.T) {
		d, c, _ := setupDeleter(t, Waits{Interface: retry.Constant(4, time.Second)})
		c.Add(region, cloud.NetworkInterface{ID: "eni-3"})
		c.FailOn("DeleteNetworkInterface", "eni-3", cloud.NewAPIError("InvalidNetworkInterface.InUse", "in use"))

		err := d.Delete(context.Background(), ref("eni-3", engine.TypeNetworkInterface))
		if got := reasonOf(t, err); got != engine.ReasonStillReferenced {
			t.Errorf("Reason = %s, want %s", got, engine.ReasonStillReferenced)
		}
		if got := c.CallCount("DeleteNetworkInterface", "eni-3"); got != 4 {
			t.Errorf("DeleteNetworkInterface calls = %d, want 4", got)
		}
	})
}

func TestDeleteVolumeTerminatesHoldingInstance(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstanceRunning, VolumeIDs: []string{"vol-1"}})
	c.Add(region, cloud.Volume{
		ID: "vol-1", State: cloud.VolumeInUse,
		Attachments: []cloud.VolumeAttachment{{InstanceID: "i-1", State: "attached"}},
	})

	if err := d.Delete(context.Background(), ref("vol-1", engine.TypeVolume)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := c.CallCount("TerminateInstance", "i-1"); got != 1 {
		t.Errorf("TerminateInstance calls = %d, want 1", got)
	}
	if c.Exists(region, engine.TypeVolume, "vol-1") {
		t.Error("vol-1 still exists")
	}
}

func TestDeleteVolumeInstanceNeverTerminates(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{Instance: retry.Constant(2, time.Second)})
	c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstanceRunning})
	c.Add(region, cloud.Volume{
		ID: "vol-1", State: cloud.VolumeInUse,
		Attachments: []cloud.VolumeAttachment{{InstanceID: "i-1", State: "attached"}},
	})
	c.FailOn("TerminateInstance", "i-1", cloud.NewAPIError("OperationNotPermitted", "termination protection"))

	err := d.Delete(context.Background(), ref("vol-1", engine.TypeVolume))
	if got := reasonOf(t, err); got != engine.ReasonStillReferenced {
		t.Errorf("Reason = %s, want %s", got, engine.ReasonStillReferenced)
	}
	if got := c.CallCount("DeleteVolume", "vol-1"); got != 0 {
		t.Errorf("DeleteVolume called %d times", got)
	}
}

func TestDeleteRouteTable(t *testing.T) {
	t.Run("subnet associations are dropped", func(t *testing.T) {
		d, c, _ := setupDeleter(t, Waits{})
		c.Add(region, cloud.RouteTable{ID: "rtb-1", VpcID: "vpc-1", Associations: []cloud.RouteTableAssociation{{ID: "a-1", SubnetID: "subnet-1"}}})

		if err := d.Delete(context.Background(), ref("rtb-1", engine.TypeRouteTable)); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if c.Exists(region, engine.TypeRouteTable, "rtb-1") {
			t.Error("rtb-1 still exists")
		}
	})

	t.Run("main association is left alone", func(t *testing.T) {
		d, c, _ := setupDeleter(t, Waits{})
		c.Add(region, cloud.RouteTable{ID: "rtb-main", VpcID: "vpc-1", Associations: []cloud.RouteTableAssociation{
			{ID: "a-0", Main: true},
			{ID: "a-2", SubnetID: "subnet-2"},
		}})

		err := d.Delete(context.Background(), ref("rtb-main", engine.TypeRouteTable))
		if got := reasonOf(t, err); got != engine.ReasonStillReferenced {
			t.Errorf("Reason = %s, want %s", got, engine.ReasonStillReferenced)
		}
		if got := c.CallCount("DisassociateRouteTable", "a-0"); got != 0 {
			t.Errorf("main association disassociated %d times", got)
		}
		if got := c.CallCount("DisassociateRouteTable", "a-2"); got != 1 {
			t.Errorf("subnet association disassociated %d times, want 1", got)
		}
	})
}

func TestDeleteInternetGatewayDetachesFirst(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.InternetGateway{ID: "igw-1", VpcIDs: []string{"vpc-1", "vpc-2"}})

	if err := d.Delete(context.Background(), ref("igw-1", engine.TypeInternetGateway)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := c.CallCount("DetachInternetGateway", "igw-1"); got != 2 {
		t.Errorf("DetachInternetGateway calls = %d, want 2", got)
	}
}

func TestDeleteElasticIPByPublicAddress(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(region, cloud.Address{AllocationID: "eipalloc-1", PublicIP: "203.0.113.7"})

	if err := d.Delete(context.Background(), ref("203.0.113.7", engine.TypeElasticIP)); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.Exists(region, engine.TypeElasticIP, "eipalloc-1") {
		t.Error("address still allocated")
	}
}

func TestDeleteBucketEmptiesFirst(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(engine.GlobalRegion, cloud.Bucket{Name: "assets"})
	c.PutObjects("assets", 3)

	bucket := engine.ResourceRef{ID: "assets", Type: engine.TypeBucket, Region: engine.GlobalRegion}
	if err := d.Delete(context.Background(), bucket); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.Exists(engine.GlobalRegion, engine.TypeBucket, "assets") {
		t.Error("bucket still exists")
	}
}

func TestDeleteRole(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(engine.GlobalRegion, cloud.Role{Name: "app"})
	c.AttachRolePolicies("app",
		[]string{"arn:aws:iam::aws:policy/ReadOnlyAccess"},
		[]string{"inline-s3"},
		[]string{InstanceProfileName("app")})

	role := engine.ResourceRef{ID: "app", Type: engine.TypeRole, Region: engine.GlobalRegion}
	if err := d.Delete(context.Background(), role); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if c.Exists(engine.GlobalRegion, engine.TypeRole, "app") {
		t.Error("role still exists")
	}
	if c.HasInstanceProfile("app-profile") {
		t.Error("instance profile still exists")
	}
}

func TestDeleteRoleSkipsServiceRoles(t *testing.T) {
	d, c, _ := setupDeleter(t, Waits{})
	c.Add(engine.GlobalRegion, cloud.Role{Name: "AWSServiceRoleForAutoScaling"})

	role := engine.ResourceRef{ID: "AWSServiceRoleForAutoScaling", Type: engine.TypeRole, Region: engine.GlobalRegion}
	if err := d.Delete(context.Background(), role); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !c.Exists(engine.GlobalRegion, engine.TypeRole, "AWSServiceRoleForAutoScaling") {
		t.Error("service role was deleted")
	}
}

func TestDeleteRecordsOutcomes(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "pockitect"})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	tel := telemetry.Nop()
	tel.Metrics = metrics

	c := memcloud.New()
	c.Add(region, cloud.Vpc{ID: "vpc-1"})
	d := New(c, Options{Clock: retry.NewFakeClock(time.Unix(0, 0)), Telemetry: tel, Logger: zerolog.Nop()})

	ctx := context.Background()
	_ = d.Delete(ctx, ref("vpc-1", engine.TypeVPC))
	_ = d.Delete(ctx, ref("vpc-1", engine.TypeVPC))
	_ = d.Delete(ctx, ref("x-1", engine.ResourceType("widget")))

	count, err := testutil.GatherAndCount(metrics.Gatherer(), "pockitect_deletions_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if count != 3 {
		t.Errorf("deletions_total series = %d, want deleted, already_gone and unsupported", count)
	}
}

func TestDeleteFailureUsesCommandLogger(t *testing.T) {
	var buf bytes.Buffer
	tel := telemetry.Nop()
	tel.Logger = telemetry.NewLoggerTo(&buf, telemetry.LoggingConfig{Level: "info", Format: "json"})
	scope := tel.StartCommand(context.Background(), "terminate", "req-7")
	defer scope.End("error", nil)

	d, _, _ := setupDeleter(t, Waits{})
	_ = d.Delete(scope.Ctx, ref("w-1", engine.ResourceType("widget")))

	out := buf.String()
	for _, want := range []string{`"request_id":"req-7"`, `"component":"resource_deleter"`, "w-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output %s missing %s", out, want)
		}
	}
}
