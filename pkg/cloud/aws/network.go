package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pockitect/pockitect/pkg/cloud"
)

var (
	vpcFilterNames    = map[string]string{}
	subnetFilterNames = map[string]string{"vpc": "vpc-id"}
	eniFilterNames    = map[string]string{
		"vpc":      "vpc-id",
		"subnet":   "subnet-id",
		"instance": "attachment.instance-id",
		"group":    "group-id",
	}
	igwFilterNames      = map[string]string{"vpc": "attachment.vpc-id"}
	natFilterNames      = map[string]string{"vpc": "vpc-id", "subnet": "subnet-id"}
	routeFilterNames    = map[string]string{"vpc": "vpc-id", "subnet": "association.subnet-id"}
	aclFilterNames      = map[string]string{"vpc": "vpc-id"}
	endpointFilterNames = map[string]string{"vpc": "vpc-id"}
	addressFilterNames  = map[string]string{"instance": "instance-id", "public_ip": "public-ip"}
)

// VPCs

// DescribeVpcs lists VPCs matching f.
func (p *Provider) DescribeVpcs(ctx context.Context, region string, f cloud.Filter) ([]cloud.Vpc, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.Vpc
	pager := ec2.NewDescribeVpcsPaginator(client, &ec2.DescribeVpcsInput{VpcIds: f.IDs, Filters: ec2Filters(f, vpcFilterNames)})
	err = pages(ctx, p, "DescribeVpcs", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeVpcsOutput) {
		for _, v := range page.Vpcs {
			out = append(out, cloud.Vpc{
				ID:        aws.ToString(v.VpcId),
				CIDR:      aws.ToString(v.CidrBlock),
				State:     string(v.State),
				IsDefault: aws.ToBool(v.IsDefault),
				Tags:      fromEC2Tags(v.Tags),
			})
		}
	})
	return out, err
}

// DescribeVpc returns one VPC.
func (p *Provider) DescribeVpc(ctx context.Context, region, id string) (*cloud.Vpc, error) {
	vpcs, err := p.DescribeVpcs(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(vpcs) == 0 {
		return nil, notFound("InvalidVpcID.NotFound", "vpc %s does not exist", id)
	}
	return &vpcs[0], nil
}

// CreateVpc creates a VPC.
func (p *Provider) CreateVpc(ctx context.Context, region, cidr string, tags map[string]string) (*cloud.Vpc, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *ec2.CreateVpcOutput
	err = p.call(ctx, "CreateVpc", func(ctx context.Context) error {
		var err error
		res, err = client.CreateVpc(ctx, &ec2.CreateVpcInput{
			CidrBlock:         aws.String(cidr),
			TagSpecifications: toEC2TagSpec(ec2types.ResourceTypeVpc, tags),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &cloud.Vpc{
		ID:    aws.ToString(res.Vpc.VpcId),
		CIDR:  aws.ToString(res.Vpc.CidrBlock),
		State: string(res.Vpc.State),
		Tags:  fromEC2Tags(res.Vpc.Tags),
	}, nil
}

// DeleteVpc deletes a VPC.
func (p *Provider) DeleteVpc(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteVpc", func(ctx context.Context) error {
		_, err := client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: aws.String(id)})
		return err
	})
}

// Subnets

func convertSubnet(s ec2types.Subnet) cloud.Subnet {
	return cloud.Subnet{
		ID:               aws.ToString(s.SubnetId),
		VpcID:            aws.ToString(s.VpcId),
		CIDR:             aws.ToString(s.CidrBlock),
		AvailabilityZone: aws.ToString(s.AvailabilityZone),
		State:            string(s.State),
		Tags:             fromEC2Tags(s.Tags),
	}
}

// DescribeSubnets lists subnets matching f.
func (p *Provider) DescribeSubnets(ctx context.Context, region string, f cloud.Filter) ([]cloud.Subnet, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.Subnet
	pager := ec2.NewDescribeSubnetsPaginator(client, &ec2.DescribeSubnetsInput{SubnetIds: f.IDs, Filters: ec2Filters(f, subnetFilterNames)})
	err = pages(ctx, p, "DescribeSubnets", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeSubnetsOutput) {
		for _, s := range page.Subnets {
			out = append(out, convertSubnet(s))
		}
	})
	return out, err
}

// DescribeSubnet returns one subnet.
func (p *Provider) DescribeSubnet(ctx context.Context, region, id string) (*cloud.Subnet, error) {
	subnets, err := p.DescribeSubnets(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(subnets) == 0 {
		return nil, notFound("InvalidSubnetID.NotFound", "subnet %s does not exist", id)
	}
	return &subnets[0], nil
}

// CreateSubnet creates a subnet inside vpcID.
func (p *Provider) CreateSubnet(ctx context.Context, region, vpcID, cidr string, tags map[string]string) (*cloud.Subnet, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *ec2.CreateSubnetOutput
	err = p.call(ctx, "CreateSubnet", func(ctx context.Context) error {
		var err error
		res, err = client.CreateSubnet(ctx, &ec2.CreateSubnetInput{
			VpcId:             aws.String(vpcID),
			CidrBlock:         aws.String(cidr),
			TagSpecifications: toEC2TagSpec(ec2types.ResourceTypeSubnet, tags),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s := convertSubnet(*res.Subnet)
	return &s, nil
}

// DeleteSubnet deletes a subnet.
func (p *Provider) DeleteSubnet(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteSubnet", func(ctx context.Context) error {
		_, err := client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: aws.String(id)})
		return err
	})
}

// Network interfaces

func convertNetworkInterface(n ec2types.NetworkInterface) cloud.NetworkInterface {
	out := cloud.NetworkInterface{
		ID:       aws.ToString(n.NetworkInterfaceId),
		Status:   string(n.Status),
		VpcID:    aws.ToString(n.VpcId),
		SubnetID: aws.ToString(n.SubnetId),
		Tags:     fromEC2Tags(n.TagSet),
	}
	for _, g := range n.Groups {
		out.SecurityGroupIDs = append(out.SecurityGroupIDs, aws.ToString(g.GroupId))
	}
	if a := n.Attachment; a != nil && a.AttachmentId != nil {
		out.Attachment = &cloud.Attachment{
			ID:          aws.ToString(a.AttachmentId),
			InstanceID:  aws.ToString(a.InstanceId),
			DeviceIndex: aws.ToInt32(a.DeviceIndex),
		}
	}
	return out
}

// DescribeNetworkInterfaces lists interfaces matching f.
func (p *Provider) DescribeNetworkInterfaces(ctx context.Context, region string, f cloud.Filter) ([]cloud.NetworkInterface, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.NetworkInterface
	pager := ec2.NewDescribeNetworkInterfacesPaginator(client, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: f.IDs,
		Filters:             ec2Filters(f, eniFilterNames),
	})
	err = pages(ctx, p, "DescribeNetworkInterfaces", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeNetworkInterfacesOutput) {
		for _, n := range page.NetworkInterfaces {
			out = append(out, convertNetworkInterface(n))
		}
	})
	return out, err
}

// DescribeNetworkInterface returns one interface.
func (p *Provider) DescribeNetworkInterface(ctx context.Context, region, id string) (*cloud.NetworkInterface, error) {
	enis, err := p.DescribeNetworkInterfaces(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(enis) == 0 {
		return nil, notFound("InvalidNetworkInterfaceID.NotFound", "network interface %s does not exist", id)
	}
	return &enis[0], nil
}

// DetachNetworkInterface detaches an interface by attachment id.
func (p *Provider) DetachNetworkInterface(ctx context.Context, region, attachmentID string, force bool) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DetachNetworkInterface", func(ctx context.Context) error {
		_, err := client.DetachNetworkInterface(ctx, &ec2.DetachNetworkInterfaceInput{
			AttachmentId: aws.String(attachmentID),
			Force:        aws.Bool(force),
		})
		return err
	})
}

// DeleteNetworkInterface deletes a detached interface.
func (p *Provider) DeleteNetworkInterface(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteNetworkInterface", func(ctx context.Context) error {
		_, err := client.DeleteNetworkInterface(ctx, &ec2.DeleteNetworkInterfaceInput{NetworkInterfaceId: aws.String(id)})
		return err
	})
}

// Internet gateways

// DescribeInternetGateways lists gateways matching f. VpcID matches attached gateways.
func (p *Provider) DescribeInternetGateways(ctx context.Context, region string, f cloud.Filter) ([]cloud.InternetGateway, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.InternetGateway
	pager := ec2.NewDescribeInternetGatewaysPaginator(client, &ec2.DescribeInternetGatewaysInput{
		InternetGatewayIds: f.IDs,
		Filters:            ec2Filters(f, igwFilterNames),
	})
	err = pages(ctx, p, "DescribeInternetGateways", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeInternetGatewaysOutput) {
		for _, g := range page.InternetGateways {
			igw := cloud.InternetGateway{ID: aws.ToString(g.InternetGatewayId), Tags: fromEC2Tags(g.Tags)}
			for _, a := range g.Attachments {
				igw.VpcIDs = append(igw.VpcIDs, aws.ToString(a.VpcId))
			}
			out = append(out, igw)
		}
	})
	return out, err
}

// DescribeInternetGateway returns one gateway.
func (p *Provider) DescribeInternetGateway(ctx context.Context, region, id string) (*cloud.InternetGateway, error) {
	gws, err := p.DescribeInternetGateways(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(gws) == 0 {
		return nil, notFound("InvalidInternetGatewayID.NotFound", "internet gateway %s does not exist", id)
	}
	return &gws[0], nil
}

// DetachInternetGateway detaches a gateway from vpcID.
func (p *Provider) DetachInternetGateway(ctx context.Context, region, id, vpcID string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DetachInternetGateway", func(ctx context.Context) error {
		_, err := client.DetachInternetGateway(ctx, &ec2.DetachInternetGatewayInput{
			InternetGatewayId: aws.String(id),
			VpcId:             aws.String(vpcID),
		})
		return err
	})
}

// DeleteInternetGateway deletes a detached gateway.
func (p *Provider) DeleteInternetGateway(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteInternetGateway", func(ctx context.Context) error {
		_, err := client.DeleteInternetGateway(ctx, &ec2.DeleteInternetGatewayInput{InternetGatewayId: aws.String(id)})
		return err
	})
}

// NAT gateways

// DescribeNatGateways lists NAT gateways matching f.
func (p *Provider) DescribeNatGateways(ctx context.Context, region string, f cloud.Filter) ([]cloud.NatGateway, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.NatGateway
	pager := ec2.NewDescribeNatGatewaysPaginator(client, &ec2.DescribeNatGatewaysInput{
		NatGatewayIds: f.IDs,
		Filter:        ec2Filters(f, natFilterNames),
	})
	err = pages(ctx, p, "DescribeNatGateways", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeNatGatewaysOutput) {
		for _, n := range page.NatGateways {
			out = append(out, cloud.NatGateway{
				ID:       aws.ToString(n.NatGatewayId),
				VpcID:    aws.ToString(n.VpcId),
				SubnetID: aws.ToString(n.SubnetId),
				State:    string(n.State),
				Tags:     fromEC2Tags(n.Tags),
			})
		}
	})
	return out, err
}

// DescribeNatGateway returns one NAT gateway.
func (p *Provider) DescribeNatGateway(ctx context.Context, region, id string) (*cloud.NatGateway, error) {
	gws, err := p.DescribeNatGateways(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(gws) == 0 {
		return nil, notFound("NatGatewayNotFound", "nat gateway %s does not exist", id)
	}
	return &gws[0], nil
}

// DeleteNatGateway starts NAT gateway deletion.
func (p *Provider) DeleteNatGateway(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteNatGateway", func(ctx context.Context) error {
		_, err := client.DeleteNatGateway(ctx, &ec2.DeleteNatGatewayInput{NatGatewayId: aws.String(id)})
		return err
	})
}

// Route tables

// DescribeRouteTables lists route tables matching f.
func (p *Provider) DescribeRouteTables(ctx context.Context, region string, f cloud.Filter) ([]cloud.RouteTable, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.RouteTable
	pager := ec2.NewDescribeRouteTablesPaginator(client, &ec2.DescribeRouteTablesInput{
		RouteTableIds: f.IDs,
		Filters:       ec2Filters(f, routeFilterNames),
	})
	err = pages(ctx, p, "DescribeRouteTables", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeRouteTablesOutput) {
		for _, r := range page.RouteTables {
			rt := cloud.RouteTable{
				ID:    aws.ToString(r.RouteTableId),
				VpcID: aws.ToString(r.VpcId),
				Tags:  fromEC2Tags(r.Tags),
			}
			for _, a := range r.Associations {
				rt.Associations = append(rt.Associations, cloud.RouteTableAssociation{
					ID:       aws.ToString(a.RouteTableAssociationId),
					SubnetID: aws.ToString(a.SubnetId),
					Main:     aws.ToBool(a.Main),
				})
			}
			out = append(out, rt)
		}
	})
	return out, err
}

// DescribeRouteTable returns one route table.
func (p *Provider) DescribeRouteTable(ctx context.Context, region, id string) (*cloud.RouteTable, error) {
	tables, err := p.DescribeRouteTables(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return nil, notFound("InvalidRouteTableID.NotFound", "route table %s does not exist", id)
	}
	return &tables[0], nil
}

// DisassociateRouteTable removes one subnet association.
func (p *Provider) DisassociateRouteTable(ctx context.Context, region, associationID string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DisassociateRouteTable", func(ctx context.Context) error {
		_, err := client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{AssociationId: aws.String(associationID)})
		return err
	})
}

// DeleteRouteTable deletes a route table with no associations.
func (p *Provider) DeleteRouteTable(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteRouteTable", func(ctx context.Context) error {
		_, err := client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: aws.String(id)})
		return err
	})
}

// Network ACLs

// DescribeNetworkACLs lists ACLs matching f.
func (p *Provider) DescribeNetworkACLs(ctx context.Context, region string, f cloud.Filter) ([]cloud.NetworkACL, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.NetworkACL
	pager := ec2.NewDescribeNetworkAclsPaginator(client, &ec2.DescribeNetworkAclsInput{
		NetworkAclIds: f.IDs,
		Filters:       ec2Filters(f, aclFilterNames),
	})
	err = pages(ctx, p, "DescribeNetworkAcls", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeNetworkAclsOutput) {
		for _, a := range page.NetworkAcls {
			out = append(out, cloud.NetworkACL{
				ID:        aws.ToString(a.NetworkAclId),
				VpcID:     aws.ToString(a.VpcId),
				IsDefault: aws.ToBool(a.IsDefault),
				Tags:      fromEC2Tags(a.Tags),
			})
		}
	})
	return out, err
}

// DescribeNetworkACL returns one ACL.
func (p *Provider) DescribeNetworkACL(ctx context.Context, region, id string) (*cloud.NetworkACL, error) {
	acls, err := p.DescribeNetworkACLs(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(acls) == 0 {
		return nil, notFound("InvalidNetworkAclID.NotFound", "network acl %s does not exist", id)
	}
	return &acls[0], nil
}

// DeleteNetworkACL deletes a non-default ACL.
func (p *Provider) DeleteNetworkACL(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteNetworkAcl", func(ctx context.Context) error {
		_, err := client.DeleteNetworkAcl(ctx, &ec2.DeleteNetworkAclInput{NetworkAclId: aws.String(id)})
		return err
	})
}

// VPC endpoints

// DescribeVpcEndpoints lists endpoints matching f.
func (p *Provider) DescribeVpcEndpoints(ctx context.Context, region string, f cloud.Filter) ([]cloud.VpcEndpoint, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.VpcEndpoint
	pager := ec2.NewDescribeVpcEndpointsPaginator(client, &ec2.DescribeVpcEndpointsInput{
		VpcEndpointIds: f.IDs,
		Filters:        ec2Filters(f, endpointFilterNames),
	})
	err = pages(ctx, p, "DescribeVpcEndpoints", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeVpcEndpointsOutput) {
		for _, e := range page.VpcEndpoints {
			out = append(out, cloud.VpcEndpoint{
				ID:          aws.ToString(e.VpcEndpointId),
				VpcID:       aws.ToString(e.VpcId),
				ServiceName: aws.ToString(e.ServiceName),
				State:       string(e.State),
			})
		}
	})
	return out, err
}

// DescribeVpcEndpoint returns one endpoint.
func (p *Provider) DescribeVpcEndpoint(ctx context.Context, region, id string) (*cloud.VpcEndpoint, error) {
	eps, err := p.DescribeVpcEndpoints(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		return nil, notFound("InvalidVpcEndpointId.NotFound", "vpc endpoint %s does not exist", id)
	}
	return &eps[0], nil
}

// DeleteVpcEndpoint deletes one endpoint. Per-item failures in the batch
// response are returned as errors.
func (p *Provider) DeleteVpcEndpoint(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteVpcEndpoints", func(ctx context.Context) error {
		res, err := client.DeleteVpcEndpoints(ctx, &ec2.DeleteVpcEndpointsInput{VpcEndpointIds: []string{id}})
		if err != nil {
			return err
		}
		for _, u := range res.Unsuccessful {
			if u.Error != nil {
				return cloud.NewAPIError(aws.ToString(u.Error.Code), "%s", aws.ToString(u.Error.Message))
			}
		}
		return nil
	})
}

// Peering connections

func convertPeering(c ec2types.VpcPeeringConnection) cloud.PeeringConnection {
	out := cloud.PeeringConnection{ID: aws.ToString(c.VpcPeeringConnectionId)}
	if c.RequesterVpcInfo != nil {
		out.RequesterVpcID = aws.ToString(c.RequesterVpcInfo.VpcId)
	}
	if c.AccepterVpcInfo != nil {
		out.AccepterVpcID = aws.ToString(c.AccepterVpcInfo.VpcId)
	}
	if c.Status != nil {
		out.State = string(c.Status.Code)
	}
	return out
}

// DescribePeeringConnections lists peering connections. VpcID matches either side.
func (p *Provider) DescribePeeringConnections(ctx context.Context, region string, f cloud.Filter) ([]cloud.PeeringConnection, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}

	inputs := []*ec2.DescribeVpcPeeringConnectionsInput{{VpcPeeringConnectionIds: f.IDs}}
	if f.VpcID != "" {
		inputs = []*ec2.DescribeVpcPeeringConnectionsInput{
			{VpcPeeringConnectionIds: f.IDs, Filters: []ec2types.Filter{{Name: aws.String("requester-vpc-info.vpc-id"), Values: []string{f.VpcID}}}},
			{VpcPeeringConnectionIds: f.IDs, Filters: []ec2types.Filter{{Name: aws.String("accepter-vpc-info.vpc-id"), Values: []string{f.VpcID}}}},
		}
	}

	seen := make(map[string]bool)
	var out []cloud.PeeringConnection
	for _, in := range inputs {
		pager := ec2.NewDescribeVpcPeeringConnectionsPaginator(client, in)
		err = pages(ctx, p, "DescribeVpcPeeringConnections", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeVpcPeeringConnectionsOutput) {
			for _, c := range page.VpcPeeringConnections {
				pc := convertPeering(c)
				if !seen[pc.ID] {
					seen[pc.ID] = true
					out = append(out, pc)
				}
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DescribePeeringConnection returns one peering connection.
func (p *Provider) DescribePeeringConnection(ctx context.Context, region, id string) (*cloud.PeeringConnection, error) {
	pcs, err := p.DescribePeeringConnections(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(pcs) == 0 {
		return nil, notFound("InvalidVpcPeeringConnectionID.NotFound", "peering connection %s does not exist", id)
	}
	return &pcs[0], nil
}

// DeletePeeringConnection deletes a peering connection.
func (p *Provider) DeletePeeringConnection(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteVpcPeeringConnection", func(ctx context.Context) error {
		_, err := client.DeleteVpcPeeringConnection(ctx, &ec2.DeleteVpcPeeringConnectionInput{
			VpcPeeringConnectionId: aws.String(id),
		})
		return err
	})
}

// Elastic IPs

// DescribeAddresses lists allocated addresses matching f.
func (p *Provider) DescribeAddresses(ctx context.Context, region string, f cloud.Filter) ([]cloud.Address, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *ec2.DescribeAddressesOutput
	err = p.call(ctx, "DescribeAddresses", func(ctx context.Context) error {
		var err error
		res, err = client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
			AllocationIds: f.IDs,
			Filters:       ec2Filters(f, addressFilterNames),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]cloud.Address, 0, len(res.Addresses))
	for _, a := range res.Addresses {
		out = append(out, cloud.Address{
			AllocationID:  aws.ToString(a.AllocationId),
			PublicIP:      aws.ToString(a.PublicIp),
			AssociationID: aws.ToString(a.AssociationId),
			InstanceID:    aws.ToString(a.InstanceId),
			Tags:          fromEC2Tags(a.Tags),
		})
	}
	return out, nil
}

// DescribeAddress returns one address by allocation id.
func (p *Provider) DescribeAddress(ctx context.Context, region, allocationID string) (*cloud.Address, error) {
	addrs, err := p.DescribeAddresses(ctx, region, cloud.Filter{IDs: []string{allocationID}})
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, notFound("InvalidAllocationID.NotFound", "address %s does not exist", allocationID)
	}
	return &addrs[0], nil
}

// ReleaseAddress releases an address by allocation id.
func (p *Provider) ReleaseAddress(ctx context.Context, region, allocationID string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "ReleaseAddress", func(ctx context.Context) error {
		_, err := client.ReleaseAddress(ctx, &ec2.ReleaseAddressInput{AllocationId: aws.String(allocationID)})
		return err
	})
}
