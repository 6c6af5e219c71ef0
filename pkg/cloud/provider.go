// Package cloud defines the provider boundary: provider-neutral models and
// one capability interface per resource family. The core never talks to an
// SDK directly.
package cloud

import "context"

// Compute manages instances and key pairs.
type Compute interface {
	DescribeInstances(ctx context.Context, region string, f Filter) ([]Instance, error)
	DescribeInstance(ctx context.Context, region, id string) (*Instance, error)
	RunInstance(ctx context.Context, region string, spec InstanceSpec) (*Instance, error)
	StartInstance(ctx context.Context, region, id string) error
	StopInstance(ctx context.Context, region, id string) error
	TerminateInstance(ctx context.Context, region, id string) error

	DescribeKeyPair(ctx context.Context, region, name string) (*KeyPair, error)
	DeleteKeyPair(ctx context.Context, region, name string) error
}

// Network manages VPCs and the resources that live directly inside them.
type Network interface {
	DescribeVpcs(ctx context.Context, region string, f Filter) ([]Vpc, error)
	DescribeVpc(ctx context.Context, region, id string) (*Vpc, error)
	CreateVpc(ctx context.Context, region, cidr string, tags map[string]string) (*Vpc, error)
	DeleteVpc(ctx context.Context, region, id string) error

	DescribeSubnets(ctx context.Context, region string, f Filter) ([]Subnet, error)
	DescribeSubnet(ctx context.Context, region, id string) (*Subnet, error)
	CreateSubnet(ctx context.Context, region, vpcID, cidr string, tags map[string]string) (*Subnet, error)
	DeleteSubnet(ctx context.Context, region, id string) error

	DescribeNetworkInterfaces(ctx context.Context, region string, f Filter) ([]NetworkInterface, error)
	DescribeNetworkInterface(ctx context.Context, region, id string) (*NetworkInterface, error)
	DetachNetworkInterface(ctx context.Context, region, attachmentID string, force bool) error
	DeleteNetworkInterface(ctx context.Context, region, id string) error

	DescribeInternetGateways(ctx context.Context, region string, f Filter) ([]InternetGateway, error)
	DescribeInternetGateway(ctx context.Context, region, id string) (*InternetGateway, error)
	DetachInternetGateway(ctx context.Context, region, id, vpcID string) error
	DeleteInternetGateway(ctx context.Context, region, id string) error

	DescribeNatGateways(ctx context.Context, region string, f Filter) ([]NatGateway, error)
	DescribeNatGateway(ctx context.Context, region, id string) (*NatGateway, error)
	DeleteNatGateway(ctx context.Context, region, id string) error

	DescribeRouteTables(ctx context.Context, region string, f Filter) ([]RouteTable, error)
	DescribeRouteTable(ctx context.Context, region, id string) (*RouteTable, error)
	DisassociateRouteTable(ctx context.Context, region, associationID string) error
	DeleteRouteTable(ctx context.Context, region, id string) error

	DescribeNetworkACLs(ctx context.Context, region string, f Filter) ([]NetworkACL, error)
	DescribeNetworkACL(ctx context.Context, region, id string) (*NetworkACL, error)
	DeleteNetworkACL(ctx context.Context, region, id string) error

	DescribeVpcEndpoints(ctx context.Context, region string, f Filter) ([]VpcEndpoint, error)
	DescribeVpcEndpoint(ctx context.Context, region, id string) (*VpcEndpoint, error)
	DeleteVpcEndpoint(ctx context.Context, region, id string) error

	DescribePeeringConnections(ctx context.Context, region string, f Filter) ([]PeeringConnection, error)
	DescribePeeringConnection(ctx context.Context, region, id string) (*PeeringConnection, error)
	DeletePeeringConnection(ctx context.Context, region, id string) error

	DescribeAddresses(ctx context.Context, region string, f Filter) ([]Address, error)
	DescribeAddress(ctx context.Context, region, allocationID string) (*Address, error)
	ReleaseAddress(ctx context.Context, region, allocationID string) error
}

// Firewall manages security groups and their rules.
type Firewall interface {
	DescribeSecurityGroups(ctx context.Context, region string, f Filter) ([]SecurityGroup, error)
	DescribeSecurityGroup(ctx context.Context, region, id string) (*SecurityGroup, error)
	CreateSecurityGroup(ctx context.Context, region string, spec SecurityGroupSpec) (*SecurityGroup, error)
	RevokeIngress(ctx context.Context, region, groupID string, perms []Permission) error
	RevokeEgress(ctx context.Context, region, groupID string, perms []Permission) error
	DeleteSecurityGroup(ctx context.Context, region, id string) error
}

// BlockStorage manages volumes.
type BlockStorage interface {
	DescribeVolumes(ctx context.Context, region string, f Filter) ([]Volume, error)
	DescribeVolume(ctx context.Context, region, id string) (*Volume, error)
	DetachVolume(ctx context.Context, region, id string, force bool) error
	DeleteVolume(ctx context.Context, region, id string) error
}

// Database manages database instances.
type Database interface {
	DescribeDBInstances(ctx context.Context, region string, f Filter) ([]DBInstance, error)
	DescribeDBInstance(ctx context.Context, region, id string) (*DBInstance, error)
	StartDBInstance(ctx context.Context, region, id string) error
	StopDBInstance(ctx context.Context, region, id string) error

	// DeleteDBInstance deletes without a final snapshot.
	DeleteDBInstance(ctx context.Context, region, id string) error
}

// ObjectStore manages buckets. Buckets are global.
type ObjectStore interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	DescribeBucket(ctx context.Context, name string) (*Bucket, error)
	CreateBucket(ctx context.Context, region, name string, tags map[string]string) (*Bucket, error)

	// EmptyBucket deletes every object and object version.
	EmptyBucket(ctx context.Context, name string) error
	DeleteBucket(ctx context.Context, name string) error
}

// Identity manages roles. Roles are global.
type Identity interface {
	ListRoles(ctx context.Context) ([]Role, error)
	DescribeRole(ctx context.Context, name string) (*Role, error)
	RemoveRoleFromInstanceProfile(ctx context.Context, profile, role string) error
	DeleteInstanceProfile(ctx context.Context, profile string) error
	ListAttachedRolePolicies(ctx context.Context, role string) ([]string, error)
	DetachRolePolicy(ctx context.Context, role, policyARN string) error
	ListRolePolicies(ctx context.Context, role string) ([]string, error)
	DeleteRolePolicy(ctx context.Context, role, policy string) error
	DeleteRole(ctx context.Context, name string) error
}

// LoadBalancing manages both load balancer generations.
type LoadBalancing interface {
	// DescribeLoadBalancers lists both generations.
	DescribeLoadBalancers(ctx context.Context, region string, f Filter) ([]LoadBalancer, error)
	DescribeLoadBalancer(ctx context.Context, region, arn string) (*LoadBalancer, error)
	DescribeClassicLoadBalancer(ctx context.Context, region, name string) (*LoadBalancer, error)
	DeleteLoadBalancer(ctx context.Context, region, arn string) error
	DeleteClassicLoadBalancer(ctx context.Context, region, name string) error
}

// Scaling manages auto scaling groups.
type Scaling interface {
	DescribeAutoScalingGroups(ctx context.Context, region string) ([]AutoScalingGroup, error)
	DescribeAutoScalingGroup(ctx context.Context, region, name string) (*AutoScalingGroup, error)

	// DeleteAutoScalingGroup force deletes the group and its instances.
	DeleteAutoScalingGroup(ctx context.Context, region, name string) error
}

// Provider is the full capability set of one cloud.
type Provider interface {
	Name() string
	Compute
	Network
	Firewall
	BlockStorage
	Database
	ObjectStore
	Identity
	LoadBalancing
	Scaling
}
