// Package discovery finds the dependent children of a cloud resource.
//
// Each parent type has a table of child categories. Categories are queried
// independently: a failure in one is logged and the rest still run.
// Resources whose lifecycle belongs to the parent (the primary interface of
// an instance, the default security group and ACL, the main route table) are
// never returned.
package discovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

type category struct {
	name string
	find func(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error)
}

var categories = map[engine.ResourceType][]category{
	engine.TypeVPC: {
		{"autoscaling_groups", vpcAutoScalingGroups},
		{"load_balancers", vpcLoadBalancers},
		{"vpc_endpoints", vpcEndpoints},
		{"peering_connections", vpcPeeringConnections},
		{"subnets", vpcSubnets},
		{"internet_gateways", vpcInternetGateways},
		{"security_groups", vpcSecurityGroups},
		{"network_acls", vpcNetworkACLs},
		{"route_tables", vpcRouteTables},
	},
	engine.TypeSubnet: {
		{"instances", subnetInstances},
		{"nat_gateways", subnetNatGateways},
		{"network_interfaces", subnetNetworkInterfaces},
	},
	engine.TypeInstance: {
		{"volumes_and_groups", instanceAttachments},
		{"network_interfaces", instanceNetworkInterfaces},
		{"addresses", instanceAddresses},
	},
	engine.TypeNetworkInterface: {
		{"security_groups", interfaceSecurityGroups},
	},
}

// Finder implements engine.ChildFinder on top of a cloud provider.
type Finder struct {
	provider cloud.Provider
	logger   zerolog.Logger
}

var _ engine.ChildFinder = (*Finder)(nil)

// New creates a finder.
func New(provider cloud.Provider, logger zerolog.Logger) *Finder {
	return &Finder{
		provider: provider,
		logger:   logger.With().Str("component", "child_discovery").Logger(),
	}
}

// FindChildren returns the children of ref, de-duplicated, in category
// order. Types without children return nil. An error is returned only when
// every category failed.
func (f *Finder) FindChildren(ctx context.Context, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	cats, ok := categories[ref.Type]
	if !ok {
		return nil, nil
	}

	seen := make(map[engine.ResourceRef]bool)
	var children []engine.ResourceRef
	var errs []error

	for _, c := range cats {
		if err := ctx.Err(); err != nil {
			return children, err
		}

		found, err := c.find(ctx, f.provider, ref)
		if err != nil {
			f.logger.Warn().Err(err).Str("resource", ref.String()).Str("category", c.name).
				Msg("child category failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		for _, child := range found {
			if child == ref || seen[child] {
				continue
			}
			seen[child] = true
			children = append(children, child)
		}
	}

	if len(errs) == len(cats) {
		return nil, fmt.Errorf("child discovery for %s failed: %w", ref, errors.Join(errs...))
	}
	return children, nil
}

func refs(t engine.ResourceType, region string, ids ...string) []engine.ResourceRef {
	out := make([]engine.ResourceRef, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, engine.ResourceRef{ID: id, Type: t, Region: region})
		}
	}
	return out
}
