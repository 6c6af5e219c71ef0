package discovery

import (
	"context"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func vpcAutoScalingGroups(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	subnets, err := p.DescribeSubnets(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	if len(subnets) == 0 {
		return nil, nil
	}
	mine := make(map[string]bool, len(subnets))
	for _, s := range subnets {
		mine[s.ID] = true
	}

	groups, err := p.DescribeAutoScalingGroups(ctx, ref.Region)
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, g := range groups {
		for _, s := range g.SubnetIDs {
			if mine[s] {
				out = append(out, refs(engine.TypeAutoScalingGroup, ref.Region, g.Name)...)
				break
			}
		}
	}
	return out, nil
}

func vpcLoadBalancers(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	lbs, err := p.DescribeLoadBalancers(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, lb := range lbs {
		if lb.VpcID != ref.ID {
			continue
		}
		t := engine.TypeLoadBalancer
		if lb.Classic {
			t = engine.TypeClassicLoadBalancer
		}
		out = append(out, refs(t, ref.Region, lb.ID)...)
	}
	return out, nil
}

func vpcEndpoints(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	eps, err := p.DescribeVpcEndpoints(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, ep := range eps {
		out = append(out, refs(engine.TypeVPCEndpoint, ref.Region, ep.ID)...)
	}
	return out, nil
}

func vpcPeeringConnections(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	pcxs, err := p.DescribePeeringConnections(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, pcx := range pcxs {
		if pcx.State == "deleted" {
			continue
		}
		out = append(out, refs(engine.TypePeeringConnection, ref.Region, pcx.ID)...)
	}
	return out, nil
}

func vpcSubnets(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	subnets, err := p.DescribeSubnets(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, s := range subnets {
		out = append(out, refs(engine.TypeSubnet, ref.Region, s.ID)...)
	}
	return out, nil
}

func vpcInternetGateways(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	igws, err := p.DescribeInternetGateways(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, g := range igws {
		out = append(out, refs(engine.TypeInternetGateway, ref.Region, g.ID)...)
	}
	return out, nil
}

func vpcSecurityGroups(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	groups, err := p.DescribeSecurityGroups(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, g := range groups {
		if g.IsDefault() {
			continue
		}
		out = append(out, refs(engine.TypeSecurityGroup, ref.Region, g.ID)...)
	}
	return out, nil
}

func vpcNetworkACLs(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	acls, err := p.DescribeNetworkACLs(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, a := range acls {
		if a.IsDefault {
			continue
		}
		out = append(out, refs(engine.TypeNetworkACL, ref.Region, a.ID)...)
	}
	return out, nil
}

func vpcRouteTables(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	tables, err := p.DescribeRouteTables(ctx, ref.Region, cloud.Filter{VpcID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, rt := range tables {
		if rt.IsMain() {
			continue
		}
		out = append(out, refs(engine.TypeRouteTable, ref.Region, rt.ID)...)
	}
	return out, nil
}

func subnetInstances(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	instances, err := p.DescribeInstances(ctx, ref.Region, cloud.Filter{SubnetID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, i := range instances {
		if i.State == cloud.InstanceTerminated {
			continue
		}
		out = append(out, refs(engine.TypeInstance, ref.Region, i.ID)...)
	}
	return out, nil
}

func subnetNatGateways(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	nats, err := p.DescribeNatGateways(ctx, ref.Region, cloud.Filter{SubnetID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, n := range nats {
		if n.State == cloud.NatGatewayDeleted {
			continue
		}
		out = append(out, refs(engine.TypeNatGateway, ref.Region, n.ID)...)
	}
	return out, nil
}

func subnetNetworkInterfaces(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	enis, err := p.DescribeNetworkInterfaces(ctx, ref.Region, cloud.Filter{SubnetID: ref.ID})
	if err != nil {
		return nil, err
	}
	return nonPrimary(enis, ref.Region), nil
}

func nonPrimary(enis []cloud.NetworkInterface, region string) []engine.ResourceRef {
	var out []engine.ResourceRef
	for _, n := range enis {
		if n.Primary() {
			continue
		}
		out = append(out, refs(engine.TypeNetworkInterface, region, n.ID)...)
	}
	return out
}

// instanceAttachments returns the instance's volumes and non-default
// security groups from a single describe.
func instanceAttachments(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	inst, err := p.DescribeInstance(ctx, ref.Region, ref.ID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	out := refs(engine.TypeVolume, ref.Region, inst.VolumeIDs...)
	groups, err := groupRefs(ctx, p, ref.Region, inst.SecurityGroupIDs)
	if err != nil {
		return nil, err
	}
	return append(out, groups...), nil
}

func instanceNetworkInterfaces(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	enis, err := p.DescribeNetworkInterfaces(ctx, ref.Region, cloud.Filter{InstanceID: ref.ID})
	if err != nil {
		return nil, err
	}
	return nonPrimary(enis, ref.Region), nil
}

func interfaceSecurityGroups(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	eni, err := p.DescribeNetworkInterface(ctx, ref.Region, ref.ID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return groupRefs(ctx, p, ref.Region, eni.SecurityGroupIDs)
}

// groupRefs drops default groups from ids. When the groups cannot be
// described, every id is returned and the deleter skips defaults itself.
func groupRefs(ctx context.Context, p cloud.Provider, region string, ids []string) ([]engine.ResourceRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	groups, err := p.DescribeSecurityGroups(ctx, region, cloud.Filter{IDs: ids})
	if err != nil {
		return refs(engine.TypeSecurityGroup, region, ids...), nil
	}
	defaults := make(map[string]bool)
	for _, g := range groups {
		if g.IsDefault() {
			defaults[g.ID] = true
		}
	}
	var out []engine.ResourceRef
	for _, id := range ids {
		if !defaults[id] {
			out = append(out, refs(engine.TypeSecurityGroup, region, id)...)
		}
	}
	return out, nil
}

// instanceAddresses returns elastic addresses associated with the instance.
// An auto-assigned public address is released with the instance and is not
// a child.
func instanceAddresses(ctx context.Context, p cloud.Provider, ref engine.ResourceRef) ([]engine.ResourceRef, error) {
	addrs, err := p.DescribeAddresses(ctx, ref.Region, cloud.Filter{InstanceID: ref.ID})
	if err != nil {
		return nil, err
	}
	var out []engine.ResourceRef
	for _, a := range addrs {
		out = append(out, refs(engine.TypeElasticIP, ref.Region, a.AllocationID)...)
	}
	return out, nil
}
