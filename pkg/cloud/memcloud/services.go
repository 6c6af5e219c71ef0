package memcloud

import (
	"context"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func (c *Cloud) ListRoles(ctx context.Context) ([]cloud.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListRoles", ""); err != nil {
		return nil, err
	}
	out := make([]cloud.Role, 0)
	for _, r := range all[cloud.Role](c, engine.GlobalRegion, engine.TypeRole) {
		out = append(out, *r)
	}
	return out, nil
}

func (c *Cloud) DescribeRole(ctx context.Context, name string) (*cloud.Role, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeRole", name); err != nil {
		return nil, err
	}
	r, ok := lookup[cloud.Role](c, engine.GlobalRegion, engine.TypeRole, name)
	if !ok {
		return nil, notFound(engine.TypeRole, name)
	}
	cp := *r
	return &cp, nil
}

func (c *Cloud) RemoveRoleFromInstanceProfile(ctx context.Context, profile, role string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("RemoveRoleFromInstanceProfile", profile); err != nil {
		return err
	}
	roles, ok := c.profiles[profile]
	if !ok || !contains(roles, role) {
		return cloud.NewAPIError("NoSuchEntity", "Instance profile %s does not contain %s", profile, role)
	}
	c.profiles[profile] = without(roles, role)
	return nil
}

func (c *Cloud) DeleteInstanceProfile(ctx context.Context, profile string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteInstanceProfile", profile); err != nil {
		return err
	}
	roles, ok := c.profiles[profile]
	if !ok {
		return cloud.NewAPIError("NoSuchEntity", "Instance profile %s cannot be found", profile)
	}
	if len(roles) > 0 {
		return cloud.NewAPIError("DeleteConflict", "Instance profile %s still has roles", profile)
	}
	delete(c.profiles, profile)
	return nil
}

func (c *Cloud) ListAttachedRolePolicies(ctx context.Context, role string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListAttachedRolePolicies", role); err != nil {
		return nil, err
	}
	return append([]string(nil), c.attached[role]...), nil
}

func (c *Cloud) DetachRolePolicy(ctx context.Context, role, policyARN string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DetachRolePolicy", role); err != nil {
		return err
	}
	c.attached[role] = without(c.attached[role], policyARN)
	return nil
}

func (c *Cloud) ListRolePolicies(ctx context.Context, role string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListRolePolicies", role); err != nil {
		return nil, err
	}
	return append([]string(nil), c.inline[role]...), nil
}

func (c *Cloud) DeleteRolePolicy(ctx context.Context, role, policy string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteRolePolicy", role); err != nil {
		return err
	}
	c.inline[role] = without(c.inline[role], policy)
	return nil
}

func (c *Cloud) DeleteRole(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteRole", name); err != nil {
		return err
	}
	if _, ok := lookup[cloud.Role](c, engine.GlobalRegion, engine.TypeRole, name); !ok {
		return notFound(engine.TypeRole, name)
	}
	if len(c.attached[name]) > 0 || len(c.inline[name]) > 0 {
		return cloud.NewAPIError("DeleteConflict", "Cannot delete entity, must detach all policies first.")
	}
	for profile, roles := range c.profiles {
		if contains(roles, name) {
			return cloud.NewAPIError("DeleteConflict", "Cannot delete entity, must remove roles from instance profile %s first.", profile)
		}
	}
	c.remove(engine.GlobalRegion, engine.TypeRole, name)
	return nil
}

func (c *Cloud) DescribeLoadBalancers(ctx context.Context, region string, f cloud.Filter) ([]cloud.LoadBalancer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeLoadBalancers", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.LoadBalancer, 0)
	for _, t := range []engine.ResourceType{engine.TypeLoadBalancer, engine.TypeClassicLoadBalancer} {
		for _, lb := range all[cloud.LoadBalancer](c, region, t) {
			if matchIDs(f.IDs, lb.ID) && (f.VpcID == "" || lb.VpcID == f.VpcID) {
				out = append(out, *lb)
			}
		}
	}
	return out, nil
}

func (c *Cloud) DescribeLoadBalancer(ctx context.Context, region, arn string) (*cloud.LoadBalancer, error) {
	return c.describeLB("DescribeLoadBalancer", region, engine.TypeLoadBalancer, arn)
}

func (c *Cloud) DescribeClassicLoadBalancer(ctx context.Context, region, name string) (*cloud.LoadBalancer, error) {
	return c.describeLB("DescribeClassicLoadBalancer", region, engine.TypeClassicLoadBalancer, name)
}

func (c *Cloud) describeLB(op, region string, t engine.ResourceType, id string) (*cloud.LoadBalancer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op, id); err != nil {
		return nil, err
	}
	lb, ok := lookup[cloud.LoadBalancer](c, region, t, id)
	if !ok {
		return nil, notFound(t, id)
	}
	cp := *lb
	return &cp, nil
}

func (c *Cloud) DeleteLoadBalancer(ctx context.Context, region, arn string) error {
	return c.deleteLB("DeleteLoadBalancer", region, engine.TypeLoadBalancer, arn)
}

func (c *Cloud) DeleteClassicLoadBalancer(ctx context.Context, region, name string) error {
	return c.deleteLB("DeleteClassicLoadBalancer", region, engine.TypeClassicLoadBalancer, name)
}

func (c *Cloud) deleteLB(op, region string, t engine.ResourceType, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op, id); err != nil {
		return err
	}
	if _, ok := lookup[cloud.LoadBalancer](c, region, t, id); !ok {
		return notFound(t, id)
	}
	c.remove(region, t, id)
	return nil
}

func (c *Cloud) DescribeAutoScalingGroups(ctx context.Context, region string) ([]cloud.AutoScalingGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeAutoScalingGroups", region); err != nil {
		return nil, err
	}
	out := make([]cloud.AutoScalingGroup, 0)
	for _, g := range all[cloud.AutoScalingGroup](c, region, engine.TypeAutoScalingGroup) {
		cp := *g
		cp.SubnetIDs = append([]string(nil), g.SubnetIDs...)
		out = append(out, cp)
	}
	return out, nil
}

func (c *Cloud) DescribeAutoScalingGroup(ctx context.Context, region, name string) (*cloud.AutoScalingGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeAutoScalingGroup", name); err != nil {
		return nil, err
	}
	g, ok := lookup[cloud.AutoScalingGroup](c, region, engine.TypeAutoScalingGroup, name)
	if !ok {
		return nil, notFound(engine.TypeAutoScalingGroup, name)
	}
	cp := *g
	return &cp, nil
}

func (c *Cloud) DeleteAutoScalingGroup(ctx context.Context, region, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteAutoScalingGroup", name); err != nil {
		return err
	}
	if _, ok := lookup[cloud.AutoScalingGroup](c, region, engine.TypeAutoScalingGroup, name); !ok {
		return notFound(engine.TypeAutoScalingGroup, name)
	}
	c.remove(region, engine.TypeAutoScalingGroup, name)
	return nil
}
