package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

// Tracker records created resources.
type Tracker interface {
	Add(ctx context.Context, res engine.TrackedResource) (engine.TrackedResource, error)
}

// ProgressFunc receives one message per resource before it is created.
type ProgressFunc func(message string, step, total int)

// Options configures a Deployer.
type Options struct {
	// DefaultRegion is used when the blueprint names none.
	DefaultRegion string

	Now       func() time.Time
	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger
}

// Created is one resource the deployer created or adopted.
type Created struct {
	Name    string             `json:"name"`
	Ref     engine.ResourceRef `json:"ref"`
	Adopted bool               `json:"adopted,omitempty"`
	Parent  string             `json:"parent,omitempty"`
}

// Result is the outcome of a deployment.
type Result struct {
	Project   string    `json:"project"`
	Region    string    `json:"region"`
	Resources []Created `json:"resources"`
}

// Deployer creates blueprint resources through a cloud provider.
type Deployer struct {
	provider cloud.Provider
	tracker  Tracker
	opts     Options
	logger   zerolog.Logger
}

// New creates a deployer. tracker may be nil.
func New(provider cloud.Provider, tracker Tracker, opts Options) *Deployer {
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "us-east-1"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	return &Deployer{
		provider: provider,
		tracker:  tracker,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "deployer").Logger(),
	}
}

// deployment carries the ids produced so far.
type deployment struct {
	bp      *Blueprint
	region  string
	project string
	created time.Time
	ids     map[string]string
	latest  map[engine.ResourceType]string
}

// parentID resolves the id of a parent of type t for spec: an explicit
// property first, then a depends_on entry of that type, then the most
// recently created resource of that type.
func (d *deployment) parentID(spec ResourceSpec, t engine.ResourceType, property string) string {
	if v := spec.String(property); v != "" {
		return v
	}
	for _, dep := range spec.DependsOn {
		if engine.ResourceType(d.bp.Resources[dep].Type) == t {
			if id, ok := d.ids[dep]; ok {
				return id
			}
		}
	}
	return d.latest[t]
}

func (d *deployment) tags(name string) map[string]string {
	return map[string]string{
		engine.TagName:    name,
		engine.TagManaged: "true",
		engine.TagProject: d.project,
		engine.TagCreated: d.created.UTC().Format(time.RFC3339),
	}
}

// Deploy creates every resource of bp in dependency order. It stops at the
// first failure; resources created before it stay tracked.
func (d *Deployer) Deploy(ctx context.Context, bp *Blueprint, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	layers, err := bp.Order()
	if err != nil {
		return nil, err
	}

	region := bp.Project.Region
	if region == "" {
		region = d.opts.DefaultRegion
	}
	dep := &deployment{
		bp:      bp,
		region:  region,
		project: bp.Project.Name,
		created: d.opts.Now(),
		ids:     make(map[string]string, len(bp.Resources)),
		latest:  make(map[engine.ResourceType]string),
	}
	result := &Result{Project: dep.project, Region: region, Resources: make([]Created, 0, len(bp.Resources))}
	logger := d.logger.With().Str("project", dep.project).Str("region", region).Logger()

	total := len(bp.Resources)
	step := 0
	for _, layer := range layers {
		for _, name := range layer {
			step++
			spec := bp.Resources[name]
			progress(fmt.Sprintf("Deploying %s (%s)...", name, spec.Type), step, total)

			c, err := d.create(ctx, dep, name, spec)
			if err != nil {
				logger.Error().Err(err).Str("resource", name).Msg("resource deployment failed")
				return result, fmt.Errorf("failed to deploy %s: %w", name, err)
			}
			dep.ids[name] = c.Ref.ID
			dep.latest[c.Ref.Type] = c.Ref.ID
			result.Resources = append(result.Resources, *c)

			if err := d.track(ctx, dep, c); err != nil {
				return result, err
			}
			logger.Info().Str("resource", name).Str("id", c.Ref.ID).Bool("adopted", c.Adopted).Msg("resource deployed")
		}
	}
	return result, nil
}

func (d *Deployer) track(ctx context.Context, dep *deployment, c *Created) error {
	if d.tracker == nil {
		return nil
	}
	_, err := d.tracker.Add(ctx, engine.TrackedResource{
		Type:      c.Ref.Type,
		ID:        c.Ref.ID,
		Region:    c.Ref.Region,
		Project:   dep.project,
		CreatedAt: dep.created,
		Name:      c.Name,
		ParentID:  c.Parent,
		Status:    engine.TrackedActive,
	})
	if err != nil {
		return fmt.Errorf("failed to track %s: %w", c.Ref, err)
	}
	return nil
}

func (d *Deployer) create(ctx context.Context, dep *deployment, name string, spec ResourceSpec) (*Created, error) {
	t := engine.ResourceType(spec.Type)
	var c *Created
	op := "create_" + spec.Type
	err := d.opts.Telemetry.ObserveProviderCall(ctx, d.provider.Name(), op, func(ctx context.Context) error {
		var err error
		switch t {
		case engine.TypeVPC:
			c, err = d.createVpc(ctx, dep, name, spec)
		case engine.TypeSubnet:
			c, err = d.createSubnet(ctx, dep, name, spec)
		case engine.TypeSecurityGroup:
			c, err = d.createSecurityGroup(ctx, dep, name, spec)
		case engine.TypeInstance:
			c, err = d.createInstance(ctx, dep, name, spec)
		case engine.TypeBucket:
			c, err = d.createBucket(ctx, dep, name, spec)
		default:
			err = engine.NewUnsupportedError(engine.ResourceRef{ID: name, Type: t, Region: dep.region})
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Name = name
	return c, nil
}

func (d *Deployer) createVpc(ctx context.Context, dep *deployment, name string, spec ResourceSpec) (*Created, error) {
	cidr := spec.String("cidr_block")
	if cidr == "" {
		cidr = "10.0.0.0/16"
	}
	vpc, err := d.provider.CreateVpc(ctx, dep.region, cidr, dep.tags(name))
	if err != nil {
		return nil, err
	}
	return &Created{Ref: engine.ResourceRef{ID: vpc.ID, Type: engine.TypeVPC, Region: dep.region}}, nil
}

// createSubnet adopts an existing subnet with the same CIDR in the VPC.
func (d *Deployer) createSubnet(ctx context.Context, dep *deployment, name string, spec ResourceSpec) (*Created, error) {
	vpcID := dep.parentID(spec, engine.TypeVPC, "vpc_id")
	if vpcID == "" {
		return nil, fmt.Errorf("subnet requires vpc_id")
	}
	cidr := spec.String("cidr_block")
	if cidr == "" {
		cidr = "10.0.1.0/24"
	}

	existing, err := d.provider.DescribeSubnets(ctx, dep.region, cloud.Filter{VpcID: vpcID})
	if err != nil {
		return nil, err
	}
	for _, s := range existing {
		if s.CIDR == cidr {
			return &Created{
				Ref:     engine.ResourceRef{ID: s.ID, Type: engine.TypeSubnet, Region: dep.region},
				Adopted: true,
				Parent:  vpcID,
			}, nil
		}
	}

	subnet, err := d.provider.CreateSubnet(ctx, dep.region, vpcID, cidr, dep.tags(name))
	if err != nil {
		return nil, err
	}
	return &Created{Ref: engine.ResourceRef{ID: subnet.ID, Type: engine.TypeSubnet, Region: dep.region}, Parent: vpcID}, nil
}

// createSecurityGroup adopts an existing group with the same name in the VPC.
func (d *Deployer) createSecurityGroup(ctx context.Context, dep *deployment, name string, spec ResourceSpec) (*Created, error) {
	vpcID := dep.parentID(spec, engine.TypeVPC, "vpc_id")
	groupName := spec.String("name")
	if groupName == "" {
		groupName = name
	}

	existing, err := d.provider.DescribeSecurityGroups(ctx, dep.region, cloud.Filter{VpcID: vpcID})
	if err != nil {
		return nil, err
	}
	for _, g := range existing {
		if g.Name == groupName {
			return &Created{
				Ref:     engine.ResourceRef{ID: g.ID, Type: engine.TypeSecurityGroup, Region: dep.region},
				Adopted: true,
				Parent:  vpcID,
			}, nil
		}
	}

	description := spec.String("description")
	if description == "" {
		description = "Managed by Pockitect"
	}
	ingress, err := ingressRules(spec.Properties["ingress"])
	if err != nil {
		return nil, err
	}
	group, err := d.provider.CreateSecurityGroup(ctx, dep.region, cloud.SecurityGroupSpec{
		Name:        groupName,
		Description: description,
		VpcID:       vpcID,
		Ingress:     ingress,
		Tags:        dep.tags(name),
	})
	if err != nil {
		return nil, err
	}
	return &Created{Ref: engine.ResourceRef{ID: group.ID, Type: engine.TypeSecurityGroup, Region: dep.region}, Parent: vpcID}, nil
}

func (d *Deployer) createInstance(ctx context.Context, dep *deployment, name string, spec ResourceSpec) (*Created, error) {
	imageID := spec.String("image_id")
	if imageID == "" {
		return nil, fmt.Errorf("ec2_instance requires properties.image_id")
	}
	instanceType := spec.String("instance_type")
	if instanceType == "" {
		instanceType = "t2.micro"
	}
	subnetID := dep.parentID(spec, engine.TypeSubnet, "subnet_id")
	groupID := dep.parentID(spec, engine.TypeSecurityGroup, "security_group_id")
	if subnetID == "" || groupID == "" {
		return nil, fmt.Errorf("ec2_instance requires subnet_id and security_group_id")
	}

	inst, err := d.provider.RunInstance(ctx, dep.region, cloud.InstanceSpec{
		ImageID:          imageID,
		InstanceType:     instanceType,
		SubnetID:         subnetID,
		SecurityGroupIDs: []string{groupID},
		KeyName:          spec.String("key_name"),
		Tags:             dep.tags(name),
	})
	if err != nil {
		return nil, err
	}
	return &Created{Ref: engine.ResourceRef{ID: inst.ID, Type: engine.TypeInstance, Region: dep.region}, Parent: subnetID}, nil
}

func (d *Deployer) createBucket(ctx context.Context, dep *deployment, name string, spec ResourceSpec) (*Created, error) {
	bucketName := spec.String("name")
	if bucketName == "" {
		bucketName = name
	}
	b, err := d.provider.CreateBucket(ctx, dep.region, bucketName, dep.tags(name))
	if err != nil {
		return nil, err
	}
	return &Created{Ref: engine.ResourceRef{ID: b.Name, Type: engine.TypeBucket, Region: engine.GlobalRegion}}, nil
}

// ingressRules reads the blueprint form
// [{protocol, from_port, to_port, cidr}] into provider permissions.
func ingressRules(v any) ([]cloud.Permission, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("ingress must be a list")
	}
	perms := make([]cloud.Permission, 0, len(list))
	for i, item := range list {
		rule, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("ingress[%d] must be a mapping", i)
		}
		p := cloud.Permission{Protocol: "tcp"}
		if s, ok := rule["protocol"].(string); ok && s != "" {
			p.Protocol = s
		}
		p.FromPort = portOf(rule["from_port"])
		p.ToPort = portOf(rule["to_port"])
		if p.ToPort == 0 {
			p.ToPort = p.FromPort
		}
		if cidr, ok := rule["cidr"].(string); ok && cidr != "" {
			p.CIDRs = []string{cidr}
		} else {
			p.CIDRs = []string{"0.0.0.0/0"}
		}
		perms = append(perms, p)
	}
	return perms, nil
}

func portOf(v any) int32 {
	switch n := v.(type) {
	case int:
		return int32(n)
	case int64:
		return int32(n)
	case float64:
		return int32(n)
	}
	return 0
}
