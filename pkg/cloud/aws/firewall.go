package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pockitect/pockitect/pkg/cloud"
)

var groupFilterNames = map[string]string{"vpc": "vpc-id"}

func fromIPPermissions(perms []ec2types.IpPermission) []cloud.Permission {
	out := make([]cloud.Permission, 0, len(perms))
	for _, p := range perms {
		perm := cloud.Permission{
			Protocol: aws.ToString(p.IpProtocol),
			FromPort: aws.ToInt32(p.FromPort),
			ToPort:   aws.ToInt32(p.ToPort),
		}
		for _, r := range p.IpRanges {
			perm.CIDRs = append(perm.CIDRs, aws.ToString(r.CidrIp))
		}
		for _, r := range p.Ipv6Ranges {
			perm.CIDRs = append(perm.CIDRs, aws.ToString(r.CidrIpv6))
		}
		for _, g := range p.UserIdGroupPairs {
			perm.GroupRefs = append(perm.GroupRefs, aws.ToString(g.GroupId))
		}
		out = append(out, perm)
	}
	return out
}

func toIPPermissions(perms []cloud.Permission) []ec2types.IpPermission {
	out := make([]ec2types.IpPermission, 0, len(perms))
	for _, p := range perms {
		perm := ec2types.IpPermission{IpProtocol: aws.String(p.Protocol)}
		if p.Protocol != "-1" {
			perm.FromPort = aws.Int32(p.FromPort)
			perm.ToPort = aws.Int32(p.ToPort)
		}
		for _, c := range p.CIDRs {
			if isIPv6(c) {
				perm.Ipv6Ranges = append(perm.Ipv6Ranges, ec2types.Ipv6Range{CidrIpv6: aws.String(c)})
			} else {
				perm.IpRanges = append(perm.IpRanges, ec2types.IpRange{CidrIp: aws.String(c)})
			}
		}
		for _, g := range p.GroupRefs {
			perm.UserIdGroupPairs = append(perm.UserIdGroupPairs, ec2types.UserIdGroupPair{GroupId: aws.String(g)})
		}
		out = append(out, perm)
	}
	return out
}

func isIPv6(cidr string) bool {
	return strings.Contains(cidr, ":")
}

func convertGroup(g ec2types.SecurityGroup) cloud.SecurityGroup {
	return cloud.SecurityGroup{
		ID:          aws.ToString(g.GroupId),
		Name:        aws.ToString(g.GroupName),
		Description: aws.ToString(g.Description),
		VpcID:       aws.ToString(g.VpcId),
		Ingress:     fromIPPermissions(g.IpPermissions),
		Egress:      fromIPPermissions(g.IpPermissionsEgress),
		Tags:        fromEC2Tags(g.Tags),
	}
}

// DescribeSecurityGroups lists groups matching f.
func (p *Provider) DescribeSecurityGroups(ctx context.Context, region string, f cloud.Filter) ([]cloud.SecurityGroup, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.SecurityGroup
	pager := ec2.NewDescribeSecurityGroupsPaginator(client, &ec2.DescribeSecurityGroupsInput{
		GroupIds: f.IDs,
		Filters:  ec2Filters(f, groupFilterNames),
	})
	err = pages(ctx, p, "DescribeSecurityGroups", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeSecurityGroupsOutput) {
		for _, g := range page.SecurityGroups {
			out = append(out, convertGroup(g))
		}
	})
	return out, err
}

// DescribeSecurityGroup returns one group.
func (p *Provider) DescribeSecurityGroup(ctx context.Context, region, id string) (*cloud.SecurityGroup, error) {
	groups, err := p.DescribeSecurityGroups(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, notFound("InvalidGroup.NotFound", "security group %s does not exist", id)
	}
	return &groups[0], nil
}

// CreateSecurityGroup creates a group and authorizes its ingress rules.
func (p *Provider) CreateSecurityGroup(ctx context.Context, region string, spec cloud.SecurityGroupSpec) (*cloud.SecurityGroup, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	desc := spec.Description
	if desc == "" {
		desc = spec.Name
	}

	var res *ec2.CreateSecurityGroupOutput
	err = p.call(ctx, "CreateSecurityGroup", func(ctx context.Context) error {
		var err error
		res, err = client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
			GroupName:         aws.String(spec.Name),
			Description:       aws.String(desc),
			VpcId:             aws.String(spec.VpcID),
			TagSpecifications: toEC2TagSpec(ec2types.ResourceTypeSecurityGroup, spec.Tags),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	groupID := aws.ToString(res.GroupId)

	if len(spec.Ingress) > 0 {
		err = p.call(ctx, "AuthorizeSecurityGroupIngress", func(ctx context.Context) error {
			_, err := client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
				GroupId:       aws.String(groupID),
				IpPermissions: toIPPermissions(spec.Ingress),
			})
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return p.DescribeSecurityGroup(ctx, region, groupID)
}

// RevokeIngress revokes the given ingress rules.
func (p *Provider) RevokeIngress(ctx context.Context, region, groupID string, perms []cloud.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "RevokeSecurityGroupIngress", func(ctx context.Context) error {
		_, err := client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: toIPPermissions(perms),
		})
		return err
	})
}

// RevokeEgress revokes the given egress rules.
func (p *Provider) RevokeEgress(ctx context.Context, region, groupID string, perms []cloud.Permission) error {
	if len(perms) == 0 {
		return nil
	}
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "RevokeSecurityGroupEgress", func(ctx context.Context) error {
		_, err := client.RevokeSecurityGroupEgress(ctx, &ec2.RevokeSecurityGroupEgressInput{
			GroupId:       aws.String(groupID),
			IpPermissions: toIPPermissions(perms),
		})
		return err
	})
}

// DeleteSecurityGroup deletes a group.
func (p *Provider) DeleteSecurityGroup(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteSecurityGroup", func(ctx context.Context) error {
		_, err := client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: aws.String(id)})
		return err
	})
}
