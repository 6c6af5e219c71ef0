package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

// collector lists one kind of resource in a region.
type collector struct {
	name    string
	collect func(ctx context.Context, p cloud.Provider, region string) ([]engine.ScannedResource, error)
}

var regionalCollectors = []collector{
	{"instances", collectInstances},
	{"vpcs", collectVpcs},
	{"subnets", collectSubnets},
	{"security_groups", collectSecurityGroups},
	{"db_instances", collectDBInstances},
}

var globalCollectors = []collector{
	{"buckets", collectBuckets},
	{"roles", collectRoles},
}

// runCollectors runs every collector and keeps going past failures. It only
// fails when every collector failed.
func (s *Scanner) runCollectors(ctx context.Context, region string, collectors []collector) ([]engine.ScannedResource, error) {
	resources := make([]engine.ScannedResource, 0)
	var errs []error
	for _, c := range collectors {
		found, err := c.collect(ctx, s.provider, region)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("region", region).Str("collector", c.name).Msg("scan collector failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		resources = append(resources, found...)
	}
	if len(errs) == len(collectors) {
		return nil, errors.Join(errs...)
	}
	return resources, nil
}

func collectInstances(ctx context.Context, p cloud.Provider, region string) ([]engine.ScannedResource, error) {
	instances, err := p.DescribeInstances(ctx, region, cloud.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(instances))
	for _, i := range instances {
		if i.State == cloud.InstanceTerminated {
			continue
		}
		out = append(out, engine.ScannedResource{
			ID:     i.ID,
			Type:   engine.TypeInstance,
			Region: region,
			Name:   i.Tags[engine.TagName],
			State:  i.State,
			Details: map[string]interface{}{
				"type":      i.InstanceType,
				"public_ip": i.PublicIP,
				"vpc_id":    i.VpcID,
			},
			Tags: i.Tags,
		})
	}
	return out, nil
}

func collectVpcs(ctx context.Context, p cloud.Provider, region string) ([]engine.ScannedResource, error) {
	vpcs, err := p.DescribeVpcs(ctx, region, cloud.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(vpcs))
	for _, v := range vpcs {
		out = append(out, engine.ScannedResource{
			ID:      v.ID,
			Type:    engine.TypeVPC,
			Region:  region,
			Name:    v.Tags[engine.TagName],
			State:   v.State,
			Details: map[string]interface{}{"cidr": v.CIDR, "is_default": v.IsDefault},
			Tags:    v.Tags,
		})
	}
	return out, nil
}

func collectSubnets(ctx context.Context, p cloud.Provider, region string) ([]engine.ScannedResource, error) {
	subnets, err := p.DescribeSubnets(ctx, region, cloud.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(subnets))
	for _, s := range subnets {
		out = append(out, engine.ScannedResource{
			ID:     s.ID,
			Type:   engine.TypeSubnet,
			Region: region,
			Name:   s.Tags[engine.TagName],
			State:  s.State,
			Details: map[string]interface{}{
				"vpc_id":            s.VpcID,
				"cidr":              s.CIDR,
				"availability_zone": s.AvailabilityZone,
			},
			Tags: s.Tags,
		})
	}
	return out, nil
}

func collectSecurityGroups(ctx context.Context, p cloud.Provider, region string) ([]engine.ScannedResource, error) {
	groups, err := p.DescribeSecurityGroups(ctx, region, cloud.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(groups))
	for _, g := range groups {
		out = append(out, engine.ScannedResource{
			ID:      g.ID,
			Type:    engine.TypeSecurityGroup,
			Region:  region,
			Name:    g.Name,
			State:   "active",
			Details: map[string]interface{}{"vpc_id": g.VpcID, "description": g.Description},
			Tags:    g.Tags,
		})
	}
	return out, nil
}

func collectDBInstances(ctx context.Context, p cloud.Provider, region string) ([]engine.ScannedResource, error) {
	dbs, err := p.DescribeDBInstances(ctx, region, cloud.Filter{})
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(dbs))
	for _, db := range dbs {
		out = append(out, engine.ScannedResource{
			ID:      db.ID,
			Type:    engine.TypeDBInstance,
			Region:  region,
			Name:    db.ID,
			State:   db.Status,
			Details: map[string]interface{}{"engine": db.Engine, "class": db.Class},
			Tags:    db.Tags,
		})
	}
	return out, nil
}

func collectBuckets(ctx context.Context, p cloud.Provider, _ string) ([]engine.ScannedResource, error) {
	buckets, err := p.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(buckets))
	for _, b := range buckets {
		details := map[string]interface{}{}
		if !b.CreatedAt.IsZero() {
			details["creation_date"] = b.CreatedAt
		}
		out = append(out, engine.ScannedResource{
			ID:      b.Name,
			Type:    engine.TypeBucket,
			Region:  engine.GlobalRegion,
			Name:    b.Name,
			State:   "active",
			Details: details,
			Tags:    b.Tags,
		})
	}
	return out, nil
}

func collectRoles(ctx context.Context, p cloud.Provider, _ string) ([]engine.ScannedResource, error) {
	roles, err := p.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]engine.ScannedResource, 0, len(roles))
	for _, r := range roles {
		out = append(out, engine.ScannedResource{
			ID:      r.Name,
			Type:    engine.TypeRole,
			Region:  engine.GlobalRegion,
			Name:    r.Name,
			State:   "active",
			Details: map[string]interface{}{"arn": r.ARN},
			Tags:    r.Tags,
		})
	}
	return out, nil
}
