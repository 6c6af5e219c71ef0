package cloud

import "time"

// Filter narrows list calls. Empty fields match everything.
type Filter struct {
	IDs        []string
	VpcID      string
	SubnetID   string
	InstanceID string
	PublicIP   string

	// GroupID matches resources that use the security group.
	GroupID string

	// Tags matches resources carrying every key with the given value.
	Tags map[string]string
}

// Instance is a compute instance.
type Instance struct {
	ID               string            `json:"id"`
	State            string            `json:"state"`
	InstanceType     string            `json:"instance_type,omitempty"`
	ImageID          string            `json:"image_id,omitempty"`
	VpcID            string            `json:"vpc_id,omitempty"`
	SubnetID         string            `json:"subnet_id,omitempty"`
	PrivateIP        string            `json:"private_ip,omitempty"`
	PublicIP         string            `json:"public_ip,omitempty"`
	SecurityGroupIDs []string          `json:"security_group_ids,omitempty"`
	VolumeIDs        []string          `json:"volume_ids,omitempty"`
	LaunchTime       time.Time         `json:"launch_time,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// Instance states.
const (
	InstancePending      = "pending"
	InstanceRunning      = "running"
	InstanceStopping     = "stopping"
	InstanceStopped      = "stopped"
	InstanceShuttingDown = "shutting-down"
	InstanceTerminated   = "terminated"
)

// InstanceSpec describes an instance to launch.
type InstanceSpec struct {
	ImageID          string
	InstanceType     string
	SubnetID         string
	SecurityGroupIDs []string
	KeyName          string
	Tags             map[string]string
}

// Attachment links a network interface to an instance.
type Attachment struct {
	ID          string `json:"id"`
	InstanceID  string `json:"instance_id"`
	DeviceIndex int32  `json:"device_index"`
}

// NetworkInterface is an elastic network interface.
type NetworkInterface struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	VpcID            string            `json:"vpc_id,omitempty"`
	SubnetID         string            `json:"subnet_id,omitempty"`
	SecurityGroupIDs []string          `json:"security_group_ids,omitempty"`
	Attachment       *Attachment       `json:"attachment,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// Primary reports whether the interface is the auto-managed primary
// attachment of an instance.
func (n NetworkInterface) Primary() bool {
	return n.Attachment != nil && n.Attachment.DeviceIndex == 0
}

// Permission is one security group rule.
type Permission struct {
	Protocol  string   `json:"protocol"`
	FromPort  int32    `json:"from_port,omitempty"`
	ToPort    int32    `json:"to_port,omitempty"`
	CIDRs     []string `json:"cidrs,omitempty"`
	GroupRefs []string `json:"group_refs,omitempty"`
}

// References reports whether the rule names groupID.
func (p Permission) References(groupID string) bool {
	for _, g := range p.GroupRefs {
		if g == groupID {
			return true
		}
	}
	return false
}

// SecurityGroup is an access-control group.
type SecurityGroup struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	VpcID       string            `json:"vpc_id,omitempty"`
	Ingress     []Permission      `json:"ingress,omitempty"`
	Egress      []Permission      `json:"egress,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// DefaultGroupName is the name of the non-removable group every VPC has.
const DefaultGroupName = "default"

// IsDefault reports whether this is the VPC's default group.
func (g SecurityGroup) IsDefault() bool {
	return g.Name == DefaultGroupName
}

// SecurityGroupSpec describes a group to create.
type SecurityGroupSpec struct {
	Name        string
	Description string
	VpcID       string
	Ingress     []Permission
	Tags        map[string]string
}

// VolumeAttachment links a volume to an instance.
type VolumeAttachment struct {
	InstanceID string `json:"instance_id"`
	Device     string `json:"device,omitempty"`
	State      string `json:"state"`
}

// Volume is a block storage volume.
type Volume struct {
	ID          string             `json:"id"`
	State       string             `json:"state"`
	SizeGiB     int32              `json:"size_gib,omitempty"`
	Attachments []VolumeAttachment `json:"attachments,omitempty"`
	Tags        map[string]string  `json:"tags,omitempty"`
}

// Volume states.
const (
	VolumeAvailable = "available"
	VolumeInUse     = "in-use"
	VolumeDeleting  = "deleting"
	VolumeDeleted   = "deleted"
)

// Vpc is a network boundary.
type Vpc struct {
	ID        string            `json:"id"`
	CIDR      string            `json:"cidr"`
	State     string            `json:"state"`
	IsDefault bool              `json:"is_default,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Subnet is a network segment inside a Vpc.
type Subnet struct {
	ID               string            `json:"id"`
	VpcID            string            `json:"vpc_id"`
	CIDR             string            `json:"cidr"`
	AvailabilityZone string            `json:"availability_zone,omitempty"`
	State            string            `json:"state"`
	Tags             map[string]string `json:"tags,omitempty"`
}

// InternetGateway is a boundary gateway.
type InternetGateway struct {
	ID     string            `json:"id"`
	VpcIDs []string          `json:"vpc_ids,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// NatGateway is a managed NAT inside a subnet.
type NatGateway struct {
	ID       string            `json:"id"`
	VpcID    string            `json:"vpc_id"`
	SubnetID string            `json:"subnet_id"`
	State    string            `json:"state"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// NAT gateway states.
const (
	NatGatewayAvailable = "available"
	NatGatewayDeleting  = "deleting"
	NatGatewayDeleted   = "deleted"
)

// RouteTableAssociation binds a route table to a subnet, or marks it main.
type RouteTableAssociation struct {
	ID       string `json:"id"`
	SubnetID string `json:"subnet_id,omitempty"`
	Main     bool   `json:"main,omitempty"`
}

// RouteTable is a VPC route table.
type RouteTable struct {
	ID           string                  `json:"id"`
	VpcID        string                  `json:"vpc_id"`
	Associations []RouteTableAssociation `json:"associations,omitempty"`
	Tags         map[string]string       `json:"tags,omitempty"`
}

// IsMain reports whether the table is the implicit main table of its VPC.
func (r RouteTable) IsMain() bool {
	for _, a := range r.Associations {
		if a.Main {
			return true
		}
	}
	return false
}

// NetworkACL is a subnet access-control list.
type NetworkACL struct {
	ID        string            `json:"id"`
	VpcID     string            `json:"vpc_id"`
	IsDefault bool              `json:"is_default,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// VpcEndpoint is a routing endpoint to a provider service.
type VpcEndpoint struct {
	ID          string `json:"id"`
	VpcID       string `json:"vpc_id"`
	ServiceName string `json:"service_name,omitempty"`
	State       string `json:"state"`
}

// PeeringConnection links two VPCs.
type PeeringConnection struct {
	ID             string `json:"id"`
	RequesterVpcID string `json:"requester_vpc_id"`
	AccepterVpcID  string `json:"accepter_vpc_id"`
	State          string `json:"state"`
}

// Address is an allocated public address.
type Address struct {
	AllocationID  string            `json:"allocation_id"`
	PublicIP      string            `json:"public_ip"`
	AssociationID string            `json:"association_id,omitempty"`
	InstanceID    string            `json:"instance_id,omitempty"`
	Tags          map[string]string `json:"tags,omitempty"`
}

// LoadBalancer is either a current generation balancer identified by ARN
// or a classic one identified by name.
type LoadBalancer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	VpcID   string `json:"vpc_id,omitempty"`
	State   string `json:"state,omitempty"`
	Classic bool   `json:"classic,omitempty"`
}

// AutoScalingGroup is a managed group of instances.
type AutoScalingGroup struct {
	Name      string   `json:"name"`
	SubnetIDs []string `json:"subnet_ids,omitempty"`
	Status    string   `json:"status,omitempty"`
}

// DBInstance is a managed database instance.
type DBInstance struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Engine   string            `json:"engine,omitempty"`
	Class    string            `json:"class,omitempty"`
	Endpoint string            `json:"endpoint,omitempty"`
	VpcID    string            `json:"vpc_id,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// Database states.
const (
	DBAvailable = "available"
	DBStopped   = "stopped"
	DBDeleting  = "deleting"
)

// Bucket is an object storage bucket.
type Bucket struct {
	Name      string            `json:"name"`
	Region    string            `json:"region,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Role is an identity role.
type Role struct {
	Name      string            `json:"name"`
	ARN       string            `json:"arn"`
	Path      string            `json:"path,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// KeyPair is an SSH key pair registered with the provider.
type KeyPair struct {
	Name string            `json:"name"`
	ID   string            `json:"id,omitempty"`
	Tags map[string]string `json:"tags,omitempty"`
}

// MatchTags reports whether tags carries every entry of want.
func MatchTags(tags, want map[string]string) bool {
	for k, v := range want {
		if tags[k] != v {
			return false
		}
	}
	return true
}
