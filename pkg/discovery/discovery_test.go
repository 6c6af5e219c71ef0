package discovery

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/cloud/memcloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

const region = "us-east-1"

func ref(id string, t engine.ResourceType) engine.ResourceRef {
	return engine.ResourceRef{ID: id, Type: t, Region: region}
}

func ids(refs []engine.ResourceRef) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = string(r.Type) + "/" + r.ID
	}
	sort.Strings(out)
	return out
}

// seedVpc builds a VPC with one of every child category, plus the
// auto-managed resources that must not be returned.
func seedVpc(c *memcloud.Cloud) {
	c.Add(region, cloud.Vpc{ID: "vpc-1"})
	c.Add(region, cloud.Subnet{ID: "subnet-1", VpcID: "vpc-1"})
	c.Add(region, cloud.SecurityGroup{ID: "sg-default", Name: cloud.DefaultGroupName, VpcID: "vpc-1"})
	c.Add(region, cloud.SecurityGroup{ID: "sg-web", Name: "web", VpcID: "vpc-1"})
	c.Add(region, cloud.NetworkACL{ID: "acl-default", VpcID: "vpc-1", IsDefault: true})
	c.Add(region, cloud.NetworkACL{ID: "acl-1", VpcID: "vpc-1"})
	c.Add(region, cloud.RouteTable{ID: "rtb-main", VpcID: "vpc-1", Associations: []cloud.RouteTableAssociation{{ID: "a-0", Main: true}}})
	c.Add(region, cloud.RouteTable{ID: "rtb-1", VpcID: "vpc-1", Associations: []cloud.RouteTableAssociation{{ID: "a-1", SubnetID: "subnet-1"}}})
	c.Add(region, cloud.InternetGateway{ID: "igw-1", VpcIDs: []string{"vpc-1"}})
	c.Add(region, cloud.VpcEndpoint{ID: "vpce-1", VpcID: "vpc-1"})
	c.Add(region, cloud.PeeringConnection{ID: "pcx-1", RequesterVpcID: "vpc-9", AccepterVpcID: "vpc-1", State: "active"})
	c.Add(region, cloud.PeeringConnection{ID: "pcx-old", RequesterVpcID: "vpc-1", AccepterVpcID: "vpc-9", State: "deleted"})
	c.Add(region, cloud.LoadBalancer{ID: "arn:lb/app/web", Name: "web", VpcID: "vpc-1"})
	c.Add(region, cloud.LoadBalancer{ID: "legacy", Name: "legacy", VpcID: "vpc-1", Classic: true})
	c.Add(region, cloud.LoadBalancer{ID: "arn:lb/app/other", Name: "other", VpcID: "vpc-2"})
	c.Add(region, cloud.AutoScalingGroup{Name: "asg-1", SubnetIDs: []string{"subnet-1"}})
	c.Add(region, cloud.AutoScalingGroup{Name: "asg-other", SubnetIDs: []string{"subnet-9"}})
}

func TestFindChildrenVpc(t *testing.T) {
	c := memcloud.New()
	seedVpc(c)

	children, err := New(c, zerolog.Nop()).FindChildren(context.Background(), ref("vpc-1", engine.TypeVPC))
	if err != nil {
		t.Fatalf("FindChildren() error = %v", err)
	}

	want := []string{
		"autoscaling_group/asg-1",
		"classic_load_balancer/legacy",
		"internet_gateway/igw-1",
		"load_balancer/arn:lb/app/web",
		"network_acl/acl-1",
		"route_table/rtb-1",
		"security_group/sg-web",
		"subnet/subnet-1",
		"vpc_endpoint/vpce-1",
		"vpc_peering_connection/pcx-1",
	}
	if got := ids(children); !reflect.DeepEqual(got, want) {
		t.Errorf("FindChildren() =\n%v\nwant\n%v", got, want)
	}
}

func TestFindChildrenContinuesPastFailedCategory(t *testing.T) {
	c := memcloud.New()
	seedVpc(c)
	c.FailOn("DescribeSubnets", "vpc-1", cloud.NewAPIError("RequestLimitExceeded", "slow down"))
	c.FailOn("DescribeLoadBalancers", "vpc-1", errors.New("connection reset"))

	children, err := New(c, zerolog.Nop()).FindChildren(context.Background(), ref("vpc-1", engine.TypeVPC))
	if err != nil {
		t.Fatalf("FindChildren() error = %v", err)
	}
	got := ids(children)
	for _, missing := range []string{"subnet/subnet-1", "autoscaling_group/asg-1", "load_balancer/arn:lb/app/web"} {
		for _, g := range got {
			if g == missing {
				t.Errorf("%s returned despite failed category", missing)
			}
		}
	}
	if len(got) != 6 {
		t.Errorf("FindChildren() = %v, want the 6 unaffected children", got)
	}
}

func TestFindChildrenAllCategoriesFail(t *testing.T) {
	c := memcloud.New()
	c.Add(region, cloud.NetworkInterface{ID: "eni-1"})
	c.FailOn("DescribeNetworkInterface", "eni-1", errors.New("boom"))

	if _, err := New(c, zerolog.Nop()).FindChildren(context.Background(), ref("eni-1", engine.TypeNetworkInterface)); err == nil {
		t.Fatal("expected error when every category fails")
	}
}

func TestFindChildrenSubnet(t *testing.T) {
	c := memcloud.New()
	c.Add(region, cloud.Subnet{ID: "subnet-1", VpcID: "vpc-1"})
	c.Add(region, cloud.Instance{ID: "i-1", SubnetID: "subnet-1", State: cloud.InstanceRunning})
	c.Add(region, cloud.Instance{ID: "i-gone", SubnetID: "subnet-1", State: cloud.InstanceTerminated})
	c.Add(region, cloud.NatGateway{ID: "nat-1", SubnetID: "subnet-1", State: cloud.NatGatewayAvailable})
	c.Add(region, cloud.NatGateway{ID: "nat-old", SubnetID: "subnet-1", State: cloud.NatGatewayDeleted})
	c.Add(region, cloud.NetworkInterface{ID: "eni-primary", SubnetID: "subnet-1", Attachment: &cloud.Attachment{ID: "att-0", InstanceID: "i-1", DeviceIndex: 0}})
	c.Add(region, cloud.NetworkInterface{ID: "eni-extra", SubnetID: "subnet-1", Attachment: &cloud.Attachment{ID: "att-1", InstanceID: "i-1", DeviceIndex: 1}})
	c.Add(region, cloud.NetworkInterface{ID: "eni-free", SubnetID: "subnet-1"})

	children, err := New(c, zerolog.Nop()).FindChildren(context.Background(), ref("subnet-1", engine.TypeSubnet))
	if err != nil {
		t.Fatalf("FindChildren() error = %v", err)
	}
	want := []string{
		"ec2_instance/i-1",
		"nat_gateway/nat-1",
		"network_interface/eni-extra",
		"network_interface/eni-free",
	}
	if got := ids(children); !reflect.DeepEqual(got, want) {
		t.Errorf("FindChildren() = %v, want %v", got, want)
	}
}

func TestFindChildrenInstance(t *testing.T) {
	c := memcloud.New()
	c.Add(region, cloud.SecurityGroup{ID: "sg-default", Name: cloud.DefaultGroupName, VpcID: "vpc-1"})
	c.Add(region, cloud.SecurityGroup{ID: "sg-web", Name: "web", VpcID: "vpc-1"})
	c.Add(region, cloud.Instance{
		ID: "i-1", SubnetID: "subnet-1", State: cloud.InstanceRunning, PublicIP: "3.3.3.3",
		SecurityGroupIDs: []string{"sg-default", "sg-web"},
		VolumeIDs:        []string{"vol-1", "vol-2"},
	})
	c.Add(region, cloud.NetworkInterface{ID: "eni-primary", Attachment: &cloud.Attachment{ID: "att-0", InstanceID: "i-1", DeviceIndex: 0}})
	c.Add(region, cloud.NetworkInterface{ID: "eni-extra", Attachment: &cloud.Attachment{ID: "att-1", InstanceID: "i-1", DeviceIndex: 1}})
	c.Add(region, cloud.Address{AllocationID: "eipalloc-1", PublicIP: "1.1.1.1", InstanceID: "i-1"})
	c.Add(region, cloud.Address{AllocationID: "eipalloc-2", PublicIP: "2.2.2.2"})

	children, err := New(c, zerolog.Nop()).FindChildren(context.Background(), ref("i-1", engine.TypeInstance))
	if err != nil {
		t.Fatalf("FindChildren() error = %v", err)
	}
	want := []string{
		"ebs_volume/vol-1",
		"ebs_volume/vol-2",
		"elastic_ip/eipalloc-1",
		"network_interface/eni-extra",
		"security_group/sg-web",
	}
	if got := ids(children); !reflect.DeepEqual(got, want) {
		t.Errorf("FindChildren() = %v, want %v", got, want)
	}
}

func TestFindChildrenInterfaceGroups(t *testing.T) {
	c := memcloud.New()
	c.Add(region, cloud.SecurityGroup{ID: "sg-db", Name: "db", VpcID: "vpc-1"})
	c.Add(region, cloud.NetworkInterface{ID: "eni-1", SecurityGroupIDs: []string{"sg-db"}})

	children, err := New(c, zerolog.Nop()).FindChildren(context.Background(), ref("eni-1", engine.TypeNetworkInterface))
	if err != nil {
		t.Fatalf("FindChildren() error = %v", err)
	}
	if got := ids(children); !reflect.DeepEqual(got, []string{"security_group/sg-db"}) {
		t.Errorf("FindChildren() = %v", got)
	}
}

func TestFindChildrenLeafAndMissing(t *testing.T) {
	c := memcloud.New()
	f := New(c, zerolog.Nop())

	children, err := f.FindChildren(context.Background(), ref("vol-1", engine.TypeVolume))
	if err != nil || children != nil {
		t.Errorf("leaf FindChildren() = %v, %v", children, err)
	}

	children, err = f.FindChildren(context.Background(), ref("i-404", engine.TypeInstance))
	if err != nil || len(children) != 0 {
		t.Errorf("missing instance FindChildren() = %v, %v", children, err)
	}
}

func TestGraphFromDiscovery(t *testing.T) {
	c := memcloud.New()
	c.Add(region, cloud.Vpc{ID: "vpc-1"})
	c.Add(region, cloud.Subnet{ID: "subnet-1", VpcID: "vpc-1"})
	c.Add(region, cloud.SecurityGroup{ID: "sg-1", Name: "app", VpcID: "vpc-1"})
	c.Add(region, cloud.Instance{ID: "instance-1", SubnetID: "subnet-1", State: cloud.InstanceRunning})

	builder := engine.NewGraphBuilder(New(c, zerolog.Nop()), zerolog.Nop())
	graph, err := builder.BuildRefs(context.Background(), []engine.ResourceRef{ref("vpc-1", engine.TypeVPC)})
	if err != nil {
		t.Fatalf("BuildRefs() error = %v", err)
	}

	layers := graph.Layers()
	want := [][]string{
		{"vpc/vpc-1"},
		{"security_group/sg-1", "subnet/subnet-1"},
		{"ec2_instance/instance-1"},
	}
	if len(layers) != len(want) {
		t.Fatalf("layers = %v, want %v", layers, want)
	}
	for i := range want {
		if got := ids(layers[i]); !reflect.DeepEqual(got, want[i]) {
			t.Errorf("layer %d = %v, want %v", i, got, want[i])
		}
	}
}
