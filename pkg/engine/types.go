package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResourceType identifies a kind of cloud resource. The set is closed: every
// value must appear in the capability catalogue below.
type ResourceType string

const (
	TypeVPC                 ResourceType = "vpc"
	TypeSubnet              ResourceType = "subnet"
	TypeSecurityGroup       ResourceType = "security_group"
	TypeNetworkInterface    ResourceType = "network_interface"
	TypeInternetGateway     ResourceType = "internet_gateway"
	TypeNatGateway          ResourceType = "nat_gateway"
	TypeRouteTable          ResourceType = "route_table"
	TypeNetworkACL          ResourceType = "network_acl"
	TypeVPCEndpoint         ResourceType = "vpc_endpoint"
	TypePeeringConnection   ResourceType = "vpc_peering_connection"
	TypeElasticIP           ResourceType = "elastic_ip"
	TypeInstance            ResourceType = "ec2_instance"
	TypeVolume              ResourceType = "ebs_volume"
	TypeKeyPair             ResourceType = "key_pair"
	TypeLoadBalancer        ResourceType = "load_balancer"
	TypeClassicLoadBalancer ResourceType = "classic_load_balancer"
	TypeAutoScalingGroup    ResourceType = "autoscaling_group"
	TypeDBInstance          ResourceType = "rds_instance"
	TypeBucket              ResourceType = "s3_bucket"
	TypeRole                ResourceType = "iam_role"
)

// Family groups resource types by the provider capability that manages them.
type Family string

const (
	FamilyNetwork       Family = "network"
	FamilyFirewall      Family = "firewall"
	FamilyCompute       Family = "compute"
	FamilyBlockStorage  Family = "block_storage"
	FamilyDatabase      Family = "database"
	FamilyObjectStore   Family = "object_store"
	FamilyIdentity      Family = "identity"
	FamilyLoadBalancing Family = "load_balancing"
	FamilyScaling       Family = "scaling"
)

// Capabilities describes what the core can do with a resource type.
type Capabilities struct {
	Family Family

	// Global resources are not bound to a region and use GlobalRegion.
	Global bool

	// Powerable resources accept start/stop.
	Powerable bool

	// Creatable resources can appear in a blueprint.
	Creatable bool

	// HasChildren marks types that Child Discovery expands.
	HasChildren bool

	// Taggable resources carry provider tags that ownership checks can read.
	Taggable bool
}

// GlobalRegion is the region value used for resources that are not regional.
const GlobalRegion = "global"

var catalogue = map[ResourceType]Capabilities{
	TypeVPC:                 {Family: FamilyNetwork, Creatable: true, HasChildren: true, Taggable: true},
	TypeSubnet:              {Family: FamilyNetwork, Creatable: true, HasChildren: true, Taggable: true},
	TypeSecurityGroup:       {Family: FamilyFirewall, Creatable: true, Taggable: true},
	TypeNetworkInterface:    {Family: FamilyNetwork, HasChildren: true, Taggable: true},
	TypeInternetGateway:     {Family: FamilyNetwork, Taggable: true},
	TypeNatGateway:          {Family: FamilyNetwork, Taggable: true},
	TypeRouteTable:          {Family: FamilyNetwork, Taggable: true},
	TypeNetworkACL:          {Family: FamilyNetwork, Taggable: true},
	TypeVPCEndpoint:         {Family: FamilyNetwork},
	TypePeeringConnection:   {Family: FamilyNetwork},
	TypeElasticIP:           {Family: FamilyNetwork, Taggable: true},
	TypeInstance:            {Family: FamilyCompute, Powerable: true, Creatable: true, HasChildren: true, Taggable: true},
	TypeVolume:              {Family: FamilyBlockStorage, Taggable: true},
	TypeKeyPair:             {Family: FamilyCompute},
	TypeLoadBalancer:        {Family: FamilyLoadBalancing},
	TypeClassicLoadBalancer: {Family: FamilyLoadBalancing},
	TypeAutoScalingGroup:    {Family: FamilyScaling},
	TypeDBInstance:          {Family: FamilyDatabase, Powerable: true, Taggable: true},
	TypeBucket:              {Family: FamilyObjectStore, Global: true, Creatable: true, Taggable: true},
	TypeRole:                {Family: FamilyIdentity, Global: true, Taggable: true},
}

// ParseResourceType converts a wire string into a ResourceType.
func ParseResourceType(s string) (ResourceType, error) {
	t := ResourceType(strings.TrimSpace(s))
	if err := t.Validate(); err != nil {
		return "", err
	}
	return t, nil
}

// Validate checks that the type is part of the catalogue.
func (t ResourceType) Validate() error {
	if _, ok := catalogue[t]; !ok {
		return NewPermanentError(fmt.Sprintf("unsupported resource type: %q", string(t)), nil).
			WithCode(ErrCodeUnsupported)
	}
	return nil
}

// Capabilities returns the catalogue entry for t. Unknown types get the zero value.
func (t ResourceType) Capabilities() Capabilities {
	return catalogue[t]
}

// AllResourceTypes returns every known type in lexical order.
func AllResourceTypes() []ResourceType {
	types := make([]ResourceType, 0, len(catalogue))
	for t := range catalogue {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ResourceRef identifies one cloud resource. The same id in another region or
// with another type is a different resource.
type ResourceRef struct {
	ID     string       `json:"id" validate:"required"`
	Type   ResourceType `json:"type" validate:"required"`
	Region string       `json:"region"`
}

// String renders the ref as type/id@region.
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s/%s@%s", r.Type, r.ID, r.Region)
}

// Less orders refs by (type, id, region).
func (r ResourceRef) Less(o ResourceRef) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	if r.ID != o.ID {
		return r.ID < o.ID
	}
	return r.Region < o.Region
}

// SortRefs sorts refs in place by (type, id, region).
func SortRefs(refs []ResourceRef) {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Less(refs[j]) })
}

// Resource is a resource as supplied by a caller: a ref plus the tags and
// provider details it was observed with.
type Resource struct {
	ResourceRef
	Tags    map[string]string      `json:"tags,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Tag keys written on provisioned resources.
const (
	TagManaged   = "pockitect:managed"
	TagProject   = "pockitect:project"
	TagCreated   = "pockitect:created"
	TagProtected = "pockitect:protected"
	TagName      = "Name"
	TagDependsOn = "depends_on"
)

// ParseProjects splits a project tag value on "," and ";". Empty entries are
// dropped and duplicates collapsed, order preserved.
func ParseProjects(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ';' })
	seen := make(map[string]bool, len(fields))
	projects := make([]string, 0, len(fields))
	for _, f := range fields {
		p := strings.TrimSpace(f)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		projects = append(projects, p)
	}
	return projects
}

// ProjectsOf returns the projects named by a tag set, or nil when the tag is absent.
func ProjectsOf(tags map[string]string) []string {
	value, ok := tags[TagProject]
	if !ok {
		return nil
	}
	return ParseProjects(value)
}

// DeclaredDependencies returns the ids named by the resource's depends_on
// tag (comma separated) and details entry (list of strings).
func (r Resource) DeclaredDependencies() []string {
	var ids []string
	if v, ok := r.Tags[TagDependsOn]; ok {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	switch deps := r.Details[TagDependsOn].(type) {
	case []string:
		for _, id := range deps {
			if id != "" {
				ids = append(ids, id)
			}
		}
	case []interface{}:
		for _, d := range deps {
			if id, ok := d.(string); ok && id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// TrackedStatus is the lifecycle status of a registry entry.
type TrackedStatus string

const (
	TrackedActive  TrackedStatus = "active"
	TrackedDeleted TrackedStatus = "deleted"
)

// Validate checks if the tracked status is valid.
func (s TrackedStatus) Validate() error {
	switch s {
	case TrackedActive, TrackedDeleted:
		return nil
	default:
		return fmt.Errorf("invalid tracked status: %s", s)
	}
}

// TrackedResource is a resource this system believes it owns.
type TrackedResource struct {
	Type      ResourceType  `json:"resource_type"`
	ID        string        `json:"resource_id"`
	Region    string        `json:"region"`
	Project   string        `json:"project_name"`
	CreatedAt time.Time     `json:"created_at"`
	ARN       string        `json:"arn,omitempty"`
	Name      string        `json:"name,omitempty"`
	ParentID  string        `json:"parent_id,omitempty"`
	Status    TrackedStatus `json:"status"`
}

// Ref returns the resource's identity.
func (t TrackedResource) Ref() ResourceRef {
	return ResourceRef{ID: t.ID, Type: t.Type, Region: t.Region}
}

// ScannedResource is one entry of a region scan cache file.
type ScannedResource struct {
	ID      string                 `json:"id"`
	Type    ResourceType           `json:"type"`
	Region  string                 `json:"region"`
	Name    string                 `json:"name,omitempty"`
	State   string                 `json:"state"`
	Details map[string]interface{} `json:"details,omitempty"`
	Tags    map[string]string      `json:"tags,omitempty"`
}
