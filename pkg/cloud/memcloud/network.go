package memcloud

import (
	"context"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

// CreateVpc also creates the default security group, main route table and
// default network ACL, as the provider does.
func (c *Cloud) CreateVpc(ctx context.Context, region, cidr string, tags map[string]string) (*cloud.Vpc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateVpc", cidr); err != nil {
		return nil, err
	}
	vpc := &cloud.Vpc{ID: c.nextID("vpc"), CIDR: cidr, State: "available", Tags: copyTags(tags)}
	c.put(region, engine.TypeVPC, vpc.ID, vpc)

	sg := &cloud.SecurityGroup{ID: c.nextID("sg"), Name: cloud.DefaultGroupName, VpcID: vpc.ID}
	c.put(region, engine.TypeSecurityGroup, sg.ID, sg)

	rtb := &cloud.RouteTable{ID: c.nextID("rtb"), VpcID: vpc.ID}
	rtb.Associations = []cloud.RouteTableAssociation{{ID: c.nextID("rtbassoc"), Main: true}}
	c.put(region, engine.TypeRouteTable, rtb.ID, rtb)

	acl := &cloud.NetworkACL{ID: c.nextID("acl"), VpcID: vpc.ID, IsDefault: true}
	c.put(region, engine.TypeNetworkACL, acl.ID, acl)

	cp := *vpc
	return &cp, nil
}

func (c *Cloud) DescribeVpcs(ctx context.Context, region string, f cloud.Filter) ([]cloud.Vpc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeVpcs", region); err != nil {
		return nil, err
	}
	out := make([]cloud.Vpc, 0)
	for _, v := range all[cloud.Vpc](c, region, engine.TypeVPC) {
		if matchIDs(f.IDs, v.ID) && cloud.MatchTags(v.Tags, f.Tags) {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (c *Cloud) DescribeVpc(ctx context.Context, region, id string) (*cloud.Vpc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeVpc", id); err != nil {
		return nil, err
	}
	v, ok := lookup[cloud.Vpc](c, region, engine.TypeVPC, id)
	if !ok {
		return nil, notFound(engine.TypeVPC, id)
	}
	cp := *v
	return &cp, nil
}

// DeleteVpc refuses while anything but the implicit default resources remains.
func (c *Cloud) DeleteVpc(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteVpc", id); err != nil {
		return err
	}
	if _, ok := lookup[cloud.Vpc](c, region, engine.TypeVPC, id); !ok {
		return notFound(engine.TypeVPC, id)
	}

	for _, s := range all[cloud.Subnet](c, region, engine.TypeSubnet) {
		if s.VpcID == id {
			return dependencyViolation(engine.TypeVPC, id, s.ID)
		}
	}
	for _, g := range all[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup) {
		if g.VpcID == id && !g.IsDefault() {
			return dependencyViolation(engine.TypeVPC, id, g.ID)
		}
	}
	for _, g := range all[cloud.InternetGateway](c, region, engine.TypeInternetGateway) {
		if contains(g.VpcIDs, id) {
			return dependencyViolation(engine.TypeVPC, id, g.ID)
		}
	}
	for _, r := range all[cloud.RouteTable](c, region, engine.TypeRouteTable) {
		if r.VpcID == id && !r.IsMain() {
			return dependencyViolation(engine.TypeVPC, id, r.ID)
		}
	}
	for _, a := range all[cloud.NetworkACL](c, region, engine.TypeNetworkACL) {
		if a.VpcID == id && !a.IsDefault {
			return dependencyViolation(engine.TypeVPC, id, a.ID)
		}
	}
	for _, e := range all[cloud.VpcEndpoint](c, region, engine.TypeVPCEndpoint) {
		if e.VpcID == id {
			return dependencyViolation(engine.TypeVPC, id, e.ID)
		}
	}

	for _, g := range all[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup) {
		if g.VpcID == id {
			c.remove(region, engine.TypeSecurityGroup, g.ID)
		}
	}
	for _, r := range all[cloud.RouteTable](c, region, engine.TypeRouteTable) {
		if r.VpcID == id {
			c.remove(region, engine.TypeRouteTable, r.ID)
		}
	}
	for _, a := range all[cloud.NetworkACL](c, region, engine.TypeNetworkACL) {
		if a.VpcID == id {
			c.remove(region, engine.TypeNetworkACL, a.ID)
		}
	}
	c.remove(region, engine.TypeVPC, id)
	return nil
}

func (c *Cloud) DescribeSubnets(ctx context.Context, region string, f cloud.Filter) ([]cloud.Subnet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeSubnets", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.Subnet, 0)
	for _, s := range all[cloud.Subnet](c, region, engine.TypeSubnet) {
		if !matchIDs(f.IDs, s.ID) || (f.VpcID != "" && s.VpcID != f.VpcID) || !cloud.MatchTags(s.Tags, f.Tags) {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (c *Cloud) DescribeSubnet(ctx context.Context, region, id string) (*cloud.Subnet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeSubnet", id); err != nil {
		return nil, err
	}
	s, ok := lookup[cloud.Subnet](c, region, engine.TypeSubnet, id)
	if !ok {
		return nil, notFound(engine.TypeSubnet, id)
	}
	cp := *s
	return &cp, nil
}

func (c *Cloud) CreateSubnet(ctx context.Context, region, vpcID, cidr string, tags map[string]string) (*cloud.Subnet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateSubnet", vpcID); err != nil {
		return nil, err
	}
	if _, ok := lookup[cloud.Vpc](c, region, engine.TypeVPC, vpcID); !ok {
		return nil, notFound(engine.TypeVPC, vpcID)
	}
	for _, s := range all[cloud.Subnet](c, region, engine.TypeSubnet) {
		if s.VpcID == vpcID && s.CIDR == cidr {
			return nil, cloud.NewAPIError("InvalidSubnet.Conflict", "The CIDR '%s' conflicts with another subnet", cidr)
		}
	}
	s := &cloud.Subnet{ID: c.nextID("subnet"), VpcID: vpcID, CIDR: cidr, State: "available", Tags: copyTags(tags)}
	c.put(region, engine.TypeSubnet, s.ID, s)
	cp := *s
	return &cp, nil
}

func (c *Cloud) DeleteSubnet(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteSubnet", id); err != nil {
		return err
	}
	if _, ok := lookup[cloud.Subnet](c, region, engine.TypeSubnet, id); !ok {
		return notFound(engine.TypeSubnet, id)
	}
	for _, i := range all[cloud.Instance](c, region, engine.TypeInstance) {
		if i.SubnetID == id && i.State != cloud.InstanceTerminated {
			return dependencyViolation(engine.TypeSubnet, id, i.ID)
		}
	}
	for _, n := range all[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface) {
		if n.SubnetID == id {
			return dependencyViolation(engine.TypeSubnet, id, n.ID)
		}
	}
	for _, n := range all[cloud.NatGateway](c, region, engine.TypeNatGateway) {
		if n.SubnetID == id && n.State != cloud.NatGatewayDeleted {
			return dependencyViolation(engine.TypeSubnet, id, n.ID)
		}
	}
	for _, r := range all[cloud.RouteTable](c, region, engine.TypeRouteTable) {
		kept := r.Associations[:0:0]
		for _, a := range r.Associations {
			if a.SubnetID != id {
				kept = append(kept, a)
			}
		}
		r.Associations = kept
	}
	c.remove(region, engine.TypeSubnet, id)
	return nil
}

func (c *Cloud) DescribeNetworkInterfaces(ctx context.Context, region string, f cloud.Filter) ([]cloud.NetworkInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeNetworkInterfaces", region); err != nil {
		return nil, err
	}
	out := make([]cloud.NetworkInterface, 0)
	for _, n := range all[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface) {
		if !matchIDs(f.IDs, n.ID) ||
			(f.VpcID != "" && n.VpcID != f.VpcID) ||
			(f.SubnetID != "" && n.SubnetID != f.SubnetID) ||
			(f.GroupID != "" && !contains(n.SecurityGroupIDs, f.GroupID)) ||
			(f.InstanceID != "" && (n.Attachment == nil || n.Attachment.InstanceID != f.InstanceID)) ||
			!cloud.MatchTags(n.Tags, f.Tags) {
			continue
		}
		out = append(out, copyInterface(n))
	}
	return out, nil
}

func copyInterface(n *cloud.NetworkInterface) cloud.NetworkInterface {
	cp := *n
	if n.Attachment != nil {
		a := *n.Attachment
		cp.Attachment = &a
	}
	return cp
}

func (c *Cloud) DescribeNetworkInterface(ctx context.Context, region, id string) (*cloud.NetworkInterface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeNetworkInterface", id); err != nil {
		return nil, err
	}
	n, ok := lookup[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface, id)
	if !ok {
		return nil, notFound(engine.TypeNetworkInterface, id)
	}
	cp := copyInterface(n)
	return &cp, nil
}

func (c *Cloud) DetachNetworkInterface(ctx context.Context, region, attachmentID string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DetachNetworkInterface", attachmentID); err != nil {
		return err
	}
	for _, n := range all[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface) {
		if n.Attachment != nil && n.Attachment.ID == attachmentID {
			n.Attachment = nil
			n.Status = "available"
			return nil
		}
	}
	return cloud.NewAPIError("InvalidAttachmentID.NotFound", "attachment %s does not exist", attachmentID)
}

func (c *Cloud) DeleteNetworkInterface(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteNetworkInterface", id); err != nil {
		return err
	}
	n, ok := lookup[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface, id)
	if !ok {
		return notFound(engine.TypeNetworkInterface, id)
	}
	if n.Attachment != nil {
		return cloud.NewAPIError("InvalidNetworkInterface.InUse", "Interface %s is currently in use", id)
	}
	c.remove(region, engine.TypeNetworkInterface, id)
	return nil
}

func (c *Cloud) DescribeInternetGateways(ctx context.Context, region string, f cloud.Filter) ([]cloud.InternetGateway, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeInternetGateways", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.InternetGateway, 0)
	for _, g := range all[cloud.InternetGateway](c, region, engine.TypeInternetGateway) {
		if !matchIDs(f.IDs, g.ID) || (f.VpcID != "" && !contains(g.VpcIDs, f.VpcID)) {
			continue
		}
		cp := *g
		cp.VpcIDs = append([]string(nil), g.VpcIDs...)
		out = append(out, cp)
	}
	return out, nil
}

func (c *Cloud) DescribeInternetGateway(ctx context.Context, region, id string) (*cloud.InternetGateway, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeInternetGateway", id); err != nil {
		return nil, err
	}
	g, ok := lookup[cloud.InternetGateway](c, region, engine.TypeInternetGateway, id)
	if !ok {
		return nil, notFound(engine.TypeInternetGateway, id)
	}
	cp := *g
	cp.VpcIDs = append([]string(nil), g.VpcIDs...)
	return &cp, nil
}

func (c *Cloud) DetachInternetGateway(ctx context.Context, region, id, vpcID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DetachInternetGateway", id); err != nil {
		return err
	}
	g, ok := lookup[cloud.InternetGateway](c, region, engine.TypeInternetGateway, id)
	if !ok {
		return notFound(engine.TypeInternetGateway, id)
	}
	if !contains(g.VpcIDs, vpcID) {
		return cloud.NewAPIError("Gateway.NotAttached", "gateway %s is not attached to %s", id, vpcID)
	}
	g.VpcIDs = without(g.VpcIDs, vpcID)
	return nil
}

func (c *Cloud) DeleteInternetGateway(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteInternetGateway", id); err != nil {
		return err
	}
	g, ok := lookup[cloud.InternetGateway](c, region, engine.TypeInternetGateway, id)
	if !ok {
		return notFound(engine.TypeInternetGateway, id)
	}
	if len(g.VpcIDs) > 0 {
		return dependencyViolation(engine.TypeInternetGateway, id, g.VpcIDs[0])
	}
	c.remove(region, engine.TypeInternetGateway, id)
	return nil
}

func (c *Cloud) DescribeNatGateways(ctx context.Context, region string, f cloud.Filter) ([]cloud.NatGateway, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeNatGateways", region); err != nil {
		return nil, err
	}
	out := make([]cloud.NatGateway, 0)
	for _, n := range all[cloud.NatGateway](c, region, engine.TypeNatGateway) {
		if !matchIDs(f.IDs, n.ID) ||
			(f.VpcID != "" && n.VpcID != f.VpcID) ||
			(f.SubnetID != "" && n.SubnetID != f.SubnetID) ||
			!cloud.MatchTags(n.Tags, f.Tags) {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (c *Cloud) DescribeNatGateway(ctx context.Context, region, id string) (*cloud.NatGateway, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeNatGateway", id); err != nil {
		return nil, err
	}
	n, ok := lookup[cloud.NatGateway](c, region, engine.TypeNatGateway, id)
	if !ok {
		return nil, notFound(engine.TypeNatGateway, id)
	}
	c.advance(region, engine.TypeNatGateway, id, func(s string) { n.State = s })
	cp := *n
	return &cp, nil
}

func (c *Cloud) DeleteNatGateway(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteNatGateway", id); err != nil {
		return err
	}
	n, ok := lookup[cloud.NatGateway](c, region, engine.TypeNatGateway, id)
	if !ok {
		return notFound(engine.TypeNatGateway, id)
	}
	n.State = cloud.NatGatewayDeleted
	return nil
}

func (c *Cloud) DescribeRouteTables(ctx context.Context, region string, f cloud.Filter) ([]cloud.RouteTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeRouteTables", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.RouteTable, 0)
	for _, r := range all[cloud.RouteTable](c, region, engine.TypeRouteTable) {
		if !matchIDs(f.IDs, r.ID) || (f.VpcID != "" && r.VpcID != f.VpcID) {
			continue
		}
		cp := *r
		cp.Associations = append([]cloud.RouteTableAssociation(nil), r.Associations...)
		out = append(out, cp)
	}
	return out, nil
}

func (c *Cloud) DescribeRouteTable(ctx context.Context, region, id string) (*cloud.RouteTable, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeRouteTable", id); err != nil {
		return nil, err
	}
	r, ok := lookup[cloud.RouteTable](c, region, engine.TypeRouteTable, id)
	if !ok {
		return nil, notFound(engine.TypeRouteTable, id)
	}
	cp := *r
	cp.Associations = append([]cloud.RouteTableAssociation(nil), r.Associations...)
	return &cp, nil
}

func (c *Cloud) DisassociateRouteTable(ctx context.Context, region, associationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DisassociateRouteTable", associationID); err != nil {
		return err
	}
	for _, r := range all[cloud.RouteTable](c, region, engine.TypeRouteTable) {
		for i, a := range r.Associations {
			if a.ID != associationID {
				continue
			}
			if a.Main {
				return cloud.NewAPIError("InvalidParameterValue", "cannot disassociate the main route table association %s", associationID)
			}
			r.Associations = append(r.Associations[:i:i], r.Associations[i+1:]...)
			return nil
		}
	}
	return cloud.NewAPIError("InvalidAssociationID.NotFound", "association %s does not exist", associationID)
}

func (c *Cloud) DeleteRouteTable(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteRouteTable", id); err != nil {
		return err
	}
	r, ok := lookup[cloud.RouteTable](c, region, engine.TypeRouteTable, id)
	if !ok {
		return notFound(engine.TypeRouteTable, id)
	}
	if len(r.Associations) > 0 {
		return dependencyViolation(engine.TypeRouteTable, id, r.Associations[0].ID)
	}
	c.remove(region, engine.TypeRouteTable, id)
	return nil
}

func (c *Cloud) DescribeNetworkACLs(ctx context.Context, region string, f cloud.Filter) ([]cloud.NetworkACL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeNetworkACLs", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.NetworkACL, 0)
	for _, a := range all[cloud.NetworkACL](c, region, engine.TypeNetworkACL) {
		if matchIDs(f.IDs, a.ID) && (f.VpcID == "" || a.VpcID == f.VpcID) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (c *Cloud) DescribeNetworkACL(ctx context.Context, region, id string) (*cloud.NetworkACL, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeNetworkACL", id); err != nil {
		return nil, err
	}
	a, ok := lookup[cloud.NetworkACL](c, region, engine.TypeNetworkACL, id)
	if !ok {
		return nil, notFound(engine.TypeNetworkACL, id)
	}
	cp := *a
	return &cp, nil
}

func (c *Cloud) DeleteNetworkACL(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteNetworkACL", id); err != nil {
		return err
	}
	a, ok := lookup[cloud.NetworkACL](c, region, engine.TypeNetworkACL, id)
	if !ok {
		return notFound(engine.TypeNetworkACL, id)
	}
	if a.IsDefault {
		return cloud.NewAPIError("InvalidParameterValue", "cannot delete default network ACL %s", id)
	}
	c.remove(region, engine.TypeNetworkACL, id)
	return nil
}

func (c *Cloud) DescribeVpcEndpoints(ctx context.Context, region string, f cloud.Filter) ([]cloud.VpcEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeVpcEndpoints", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.VpcEndpoint, 0)
	for _, e := range all[cloud.VpcEndpoint](c, region, engine.TypeVPCEndpoint) {
		if matchIDs(f.IDs, e.ID) && (f.VpcID == "" || e.VpcID == f.VpcID) {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (c *Cloud) DescribeVpcEndpoint(ctx context.Context, region, id string) (*cloud.VpcEndpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeVpcEndpoint", id); err != nil {
		return nil, err
	}
	e, ok := lookup[cloud.VpcEndpoint](c, region, engine.TypeVPCEndpoint, id)
	if !ok {
		return nil, notFound(engine.TypeVPCEndpoint, id)
	}
	cp := *e
	return &cp, nil
}

func (c *Cloud) DeleteVpcEndpoint(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteVpcEndpoint", id); err != nil {
		return err
	}
	if _, ok := lookup[cloud.VpcEndpoint](c, region, engine.TypeVPCEndpoint, id); !ok {
		return notFound(engine.TypeVPCEndpoint, id)
	}
	c.remove(region, engine.TypeVPCEndpoint, id)
	return nil
}

func (c *Cloud) DescribePeeringConnections(ctx context.Context, region string, f cloud.Filter) ([]cloud.PeeringConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribePeeringConnections", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.PeeringConnection, 0)
	for _, p := range all[cloud.PeeringConnection](c, region, engine.TypePeeringConnection) {
		if !matchIDs(f.IDs, p.ID) {
			continue
		}
		if f.VpcID != "" && p.RequesterVpcID != f.VpcID && p.AccepterVpcID != f.VpcID {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (c *Cloud) DescribePeeringConnection(ctx context.Context, region, id string) (*cloud.PeeringConnection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribePeeringConnection", id); err != nil {
		return nil, err
	}
	p, ok := lookup[cloud.PeeringConnection](c, region, engine.TypePeeringConnection, id)
	if !ok {
		return nil, notFound(engine.TypePeeringConnection, id)
	}
	cp := *p
	return &cp, nil
}

func (c *Cloud) DeletePeeringConnection(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeletePeeringConnection", id); err != nil {
		return err
	}
	if _, ok := lookup[cloud.PeeringConnection](c, region, engine.TypePeeringConnection, id); !ok {
		return notFound(engine.TypePeeringConnection, id)
	}
	c.remove(region, engine.TypePeeringConnection, id)
	return nil
}

func (c *Cloud) DescribeAddresses(ctx context.Context, region string, f cloud.Filter) ([]cloud.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeAddresses", region); err != nil {
		return nil, err
	}
	out := make([]cloud.Address, 0)
	for _, a := range all[cloud.Address](c, region, engine.TypeElasticIP) {
		if !matchIDs(f.IDs, a.AllocationID) ||
			(f.InstanceID != "" && a.InstanceID != f.InstanceID) ||
			(f.PublicIP != "" && a.PublicIP != f.PublicIP) {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (c *Cloud) DescribeAddress(ctx context.Context, region, allocationID string) (*cloud.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeAddress", allocationID); err != nil {
		return nil, err
	}
	a, ok := lookup[cloud.Address](c, region, engine.TypeElasticIP, allocationID)
	if !ok {
		return nil, notFound(engine.TypeElasticIP, allocationID)
	}
	cp := *a
	return &cp, nil
}

func (c *Cloud) ReleaseAddress(ctx context.Context, region, allocationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ReleaseAddress", allocationID); err != nil {
		return err
	}
	if _, ok := lookup[cloud.Address](c, region, engine.TypeElasticIP, allocationID); !ok {
		return notFound(engine.TypeElasticIP, allocationID)
	}
	c.remove(region, engine.TypeElasticIP, allocationID)
	return nil
}
