package aws

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/pockitect/pockitect/pkg/cloud"
)

// Roles

func convertRole(r iamtypes.Role) cloud.Role {
	out := cloud.Role{
		Name:      aws.ToString(r.RoleName),
		ARN:       aws.ToString(r.Arn),
		Path:      aws.ToString(r.Path),
		CreatedAt: aws.ToTime(r.CreateDate),
	}
	if len(r.Tags) > 0 {
		out.Tags = make(map[string]string, len(r.Tags))
		for _, t := range r.Tags {
			out.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return out
}

// ListRoles lists every role. Tags are not populated by the list call.
func (p *Provider) ListRoles(ctx context.Context) ([]cloud.Role, error) {
	client, err := p.iamClient(ctx)
	if err != nil {
		return nil, err
	}
	var out []cloud.Role
	pager := iam.NewListRolesPaginator(client, &iam.ListRolesInput{})
	err = pages(ctx, p, "ListRoles", pager.HasMorePages, pager.NextPage, func(page *iam.ListRolesOutput) {
		for _, r := range page.Roles {
			out = append(out, convertRole(r))
		}
	})
	return out, err
}

// DescribeRole returns one role with its tags.
func (p *Provider) DescribeRole(ctx context.Context, name string) (*cloud.Role, error) {
	client, err := p.iamClient(ctx)
	if err != nil {
		return nil, err
	}
	var res *iam.GetRoleOutput
	err = p.call(ctx, "GetRole", func(ctx context.Context) error {
		var err error
		res, err = client.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
		return err
	})
	if err != nil {
		return nil, err
	}
	role := convertRole(*res.Role)
	return &role, nil
}

// RemoveRoleFromInstanceProfile detaches role from profile.
func (p *Provider) RemoveRoleFromInstanceProfile(ctx context.Context, profile, role string) error {
	client, err := p.iamClient(ctx)
	if err != nil {
		return err
	}
	return p.call(ctx, "RemoveRoleFromInstanceProfile", func(ctx context.Context) error {
		_, err := client.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: aws.String(profile),
			RoleName:            aws.String(role),
		})
		return err
	})
}

// DeleteInstanceProfile deletes an instance profile.
func (p *Provider) DeleteInstanceProfile(ctx context.Context, profile string) error {
	client, err := p.iamClient(ctx)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteInstanceProfile", func(ctx context.Context) error {
		_, err := client.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{InstanceProfileName: aws.String(profile)})
		return err
	})
}

// ListAttachedRolePolicies returns the ARNs of the role's managed policies.
func (p *Provider) ListAttachedRolePolicies(ctx context.Context, role string) ([]string, error) {
	client, err := p.iamClient(ctx)
	if err != nil {
		return nil, err
	}
	var arns []string
	pager := iam.NewListAttachedRolePoliciesPaginator(client, &iam.ListAttachedRolePoliciesInput{RoleName: aws.String(role)})
	err = pages(ctx, p, "ListAttachedRolePolicies", pager.HasMorePages, pager.NextPage, func(page *iam.ListAttachedRolePoliciesOutput) {
		for _, pol := range page.AttachedPolicies {
			arns = append(arns, aws.ToString(pol.PolicyArn))
		}
	})
	return arns, err
}

// DetachRolePolicy detaches a managed policy.
func (p *Provider) DetachRolePolicy(ctx context.Context, role, policyARN string) error {
	client, err := p.iamClient(ctx)
	if err != nil {
		return err
	}
	return p.call(ctx, "DetachRolePolicy", func(ctx context.Context) error {
		_, err := client.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
			RoleName:  aws.String(role),
			PolicyArn: aws.String(policyARN),
		})
		return err
	})
}

// ListRolePolicies returns the names of the role's inline policies.
func (p *Provider) ListRolePolicies(ctx context.Context, role string) ([]string, error) {
	client, err := p.iamClient(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	pager := iam.NewListRolePoliciesPaginator(client, &iam.ListRolePoliciesInput{RoleName: aws.String(role)})
	err = pages(ctx, p, "ListRolePolicies", pager.HasMorePages, pager.NextPage, func(page *iam.ListRolePoliciesOutput) {
		names = append(names, page.PolicyNames...)
	})
	return names, err
}

// DeleteRolePolicy deletes an inline policy.
func (p *Provider) DeleteRolePolicy(ctx context.Context, role, policy string) error {
	client, err := p.iamClient(ctx)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteRolePolicy", func(ctx context.Context) error {
		_, err := client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
			RoleName:   aws.String(role),
			PolicyName: aws.String(policy),
		})
		return err
	})
}

// DeleteRole deletes a role with no policies or profiles left.
func (p *Provider) DeleteRole(ctx context.Context, name string) error {
	client, err := p.iamClient(ctx)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteRole", func(ctx context.Context) error {
		_, err := client.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
		return err
	})
}

// Load balancers

// DescribeLoadBalancers lists both generations. VpcID is matched client side.
func (p *Provider) DescribeLoadBalancers(ctx context.Context, region string, f cloud.Filter) ([]cloud.LoadBalancer, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	keep := func(lb cloud.LoadBalancer) bool {
		if f.VpcID != "" && lb.VpcID != f.VpcID {
			return false
		}
		if len(f.IDs) == 0 {
			return true
		}
		for _, id := range f.IDs {
			if id == lb.ID {
				return true
			}
		}
		return false
	}

	var out []cloud.LoadBalancer
	v2 := elasticloadbalancingv2.NewDescribeLoadBalancersPaginator(c.elbv2, &elasticloadbalancingv2.DescribeLoadBalancersInput{})
	err = pages(ctx, p, "DescribeLoadBalancersV2", v2.HasMorePages, v2.NextPage, func(page *elasticloadbalancingv2.DescribeLoadBalancersOutput) {
		for _, lb := range page.LoadBalancers {
			item := cloud.LoadBalancer{
				ID:    aws.ToString(lb.LoadBalancerArn),
				Name:  aws.ToString(lb.LoadBalancerName),
				VpcID: aws.ToString(lb.VpcId),
			}
			if lb.State != nil {
				item.State = string(lb.State.Code)
			}
			if keep(item) {
				out = append(out, item)
			}
		}
	})
	if err != nil {
		return nil, err
	}

	v1 := elasticloadbalancing.NewDescribeLoadBalancersPaginator(c.elb, &elasticloadbalancing.DescribeLoadBalancersInput{})
	err = pages(ctx, p, "DescribeLoadBalancersClassic", v1.HasMorePages, v1.NextPage, func(page *elasticloadbalancing.DescribeLoadBalancersOutput) {
		for _, lb := range page.LoadBalancerDescriptions {
			item := cloud.LoadBalancer{
				ID:      aws.ToString(lb.LoadBalancerName),
				Name:    aws.ToString(lb.LoadBalancerName),
				VpcID:   aws.ToString(lb.VPCId),
				Classic: true,
			}
			if keep(item) {
				out = append(out, item)
			}
		}
	})
	return out, err
}

// DescribeLoadBalancer returns one current generation balancer by ARN.
func (p *Provider) DescribeLoadBalancer(ctx context.Context, region, arn string) (*cloud.LoadBalancer, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *elasticloadbalancingv2.DescribeLoadBalancersOutput
	err = p.call(ctx, "DescribeLoadBalancersV2", func(ctx context.Context) error {
		var err error
		res, err = c.elbv2.DescribeLoadBalancers(ctx, &elasticloadbalancingv2.DescribeLoadBalancersInput{
			LoadBalancerArns: []string{arn},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.LoadBalancers) == 0 {
		return nil, notFound("LoadBalancerNotFound", "load balancer %s does not exist", arn)
	}
	lb := res.LoadBalancers[0]
	out := &cloud.LoadBalancer{
		ID:    aws.ToString(lb.LoadBalancerArn),
		Name:  aws.ToString(lb.LoadBalancerName),
		VpcID: aws.ToString(lb.VpcId),
	}
	if lb.State != nil {
		out.State = string(lb.State.Code)
	}
	return out, nil
}

// DescribeClassicLoadBalancer returns one classic balancer by name.
func (p *Provider) DescribeClassicLoadBalancer(ctx context.Context, region, name string) (*cloud.LoadBalancer, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *elasticloadbalancing.DescribeLoadBalancersOutput
	err = p.call(ctx, "DescribeLoadBalancersClassic", func(ctx context.Context) error {
		var err error
		res, err = c.elb.DescribeLoadBalancers(ctx, &elasticloadbalancing.DescribeLoadBalancersInput{
			LoadBalancerNames: []string{name},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.LoadBalancerDescriptions) == 0 {
		return nil, notFound("LoadBalancerNotFound", "load balancer %s does not exist", name)
	}
	lb := res.LoadBalancerDescriptions[0]
	return &cloud.LoadBalancer{
		ID:      aws.ToString(lb.LoadBalancerName),
		Name:    aws.ToString(lb.LoadBalancerName),
		VpcID:   aws.ToString(lb.VPCId),
		Classic: true,
	}, nil
}

// DeleteLoadBalancer deletes a current generation balancer.
func (p *Provider) DeleteLoadBalancer(ctx context.Context, region, arn string) error {
	c, err := p.region(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteLoadBalancerV2", func(ctx context.Context) error {
		_, err := c.elbv2.DeleteLoadBalancer(ctx, &elasticloadbalancingv2.DeleteLoadBalancerInput{
			LoadBalancerArn: aws.String(arn),
		})
		return err
	})
}

// DeleteClassicLoadBalancer deletes a classic balancer.
func (p *Provider) DeleteClassicLoadBalancer(ctx context.Context, region, name string) error {
	c, err := p.region(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteLoadBalancerClassic", func(ctx context.Context) error {
		_, err := c.elb.DeleteLoadBalancer(ctx, &elasticloadbalancing.DeleteLoadBalancerInput{
			LoadBalancerName: aws.String(name),
		})
		return err
	})
}

// Auto scaling groups

// DescribeAutoScalingGroups lists every group in region.
func (p *Provider) DescribeAutoScalingGroups(ctx context.Context, region string) ([]cloud.AutoScalingGroup, error) {
	return p.describeASGs(ctx, region, nil)
}

// DescribeAutoScalingGroup returns one group by name.
func (p *Provider) DescribeAutoScalingGroup(ctx context.Context, region, name string) (*cloud.AutoScalingGroup, error) {
	groups, err := p.describeASGs(ctx, region, []string{name})
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, notFound("AutoScalingGroupNotFound", "auto scaling group %s does not exist", name)
	}
	return &groups[0], nil
}

func (p *Provider) describeASGs(ctx context.Context, region string, names []string) ([]cloud.AutoScalingGroup, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.AutoScalingGroup
	pager := autoscaling.NewDescribeAutoScalingGroupsPaginator(c.asg, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: names,
	})
	err = pages(ctx, p, "DescribeAutoScalingGroups", pager.HasMorePages, pager.NextPage, func(page *autoscaling.DescribeAutoScalingGroupsOutput) {
		for _, g := range page.AutoScalingGroups {
			asg := cloud.AutoScalingGroup{
				Name:   aws.ToString(g.AutoScalingGroupName),
				Status: aws.ToString(g.Status),
			}
			for _, s := range strings.Split(aws.ToString(g.VPCZoneIdentifier), ",") {
				if s = strings.TrimSpace(s); s != "" {
					asg.SubnetIDs = append(asg.SubnetIDs, s)
				}
			}
			out = append(out, asg)
		}
	})
	return out, err
}

// DeleteAutoScalingGroup force deletes a group and its instances. The API
// reports a missing group as a ValidationError, which is translated to a
// not found error.
func (p *Provider) DeleteAutoScalingGroup(ctx context.Context, region, name string) error {
	c, err := p.region(ctx, region)
	if err != nil {
		return err
	}
	err = p.call(ctx, "DeleteAutoScalingGroup", func(ctx context.Context) error {
		_, err := c.asg.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
			AutoScalingGroupName: aws.String(name),
			ForceDelete:          aws.Bool(true),
		})
		return err
	})
	return translateASGError(err, name)
}

func translateASGError(err error, name string) error {
	if err == nil {
		return nil
	}
	if cloud.Code(err) == "ValidationError" && strings.Contains(strings.ToLower(err.Error()), "not found") {
		return notFound("AutoScalingGroupNotFound", "auto scaling group %s does not exist", name)
	}
	return err
}
