package memcloud

import (
	"context"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func copyGroup(g *cloud.SecurityGroup) cloud.SecurityGroup {
	cp := *g
	cp.Ingress = copyPermissions(g.Ingress)
	cp.Egress = copyPermissions(g.Egress)
	return cp
}

func copyPermissions(perms []cloud.Permission) []cloud.Permission {
	if perms == nil {
		return nil
	}
	out := make([]cloud.Permission, len(perms))
	for i, p := range perms {
		out[i] = p
		out[i].CIDRs = append([]string(nil), p.CIDRs...)
		out[i].GroupRefs = append([]string(nil), p.GroupRefs...)
	}
	return out
}

func (c *Cloud) DescribeSecurityGroups(ctx context.Context, region string, f cloud.Filter) ([]cloud.SecurityGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeSecurityGroups", f.VpcID); err != nil {
		return nil, err
	}
	out := make([]cloud.SecurityGroup, 0)
	for _, g := range all[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup) {
		if !matchIDs(f.IDs, g.ID) || (f.VpcID != "" && g.VpcID != f.VpcID) || !cloud.MatchTags(g.Tags, f.Tags) {
			continue
		}
		out = append(out, copyGroup(g))
	}
	return out, nil
}

func (c *Cloud) DescribeSecurityGroup(ctx context.Context, region, id string) (*cloud.SecurityGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeSecurityGroup", id); err != nil {
		return nil, err
	}
	g, ok := lookup[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup, id)
	if !ok {
		return nil, notFound(engine.TypeSecurityGroup, id)
	}
	cp := copyGroup(g)
	return &cp, nil
}

func (c *Cloud) CreateSecurityGroup(ctx context.Context, region string, spec cloud.SecurityGroupSpec) (*cloud.SecurityGroup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateSecurityGroup", spec.Name); err != nil {
		return nil, err
	}
	if _, ok := lookup[cloud.Vpc](c, region, engine.TypeVPC, spec.VpcID); !ok {
		return nil, notFound(engine.TypeVPC, spec.VpcID)
	}
	for _, g := range all[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup) {
		if g.VpcID == spec.VpcID && g.Name == spec.Name {
			return nil, cloud.NewAPIError("InvalidGroup.Duplicate", "The security group '%s' already exists", spec.Name)
		}
	}
	g := &cloud.SecurityGroup{
		ID:          c.nextID("sg"),
		Name:        spec.Name,
		Description: spec.Description,
		VpcID:       spec.VpcID,
		Ingress:     copyPermissions(spec.Ingress),
		Egress:      []cloud.Permission{{Protocol: "-1", CIDRs: []string{"0.0.0.0/0"}}},
		Tags:        copyTags(spec.Tags),
	}
	c.put(region, engine.TypeSecurityGroup, g.ID, g)
	cp := copyGroup(g)
	return &cp, nil
}

func (c *Cloud) RevokeIngress(ctx context.Context, region, groupID string, perms []cloud.Permission) error {
	return c.revoke("RevokeIngress", region, groupID, perms, func(g *cloud.SecurityGroup) *[]cloud.Permission {
		return &g.Ingress
	})
}

func (c *Cloud) RevokeEgress(ctx context.Context, region, groupID string, perms []cloud.Permission) error {
	return c.revoke("RevokeEgress", region, groupID, perms, func(g *cloud.SecurityGroup) *[]cloud.Permission {
		return &g.Egress
	})
}

// revoke removes the listed sources from matching rules. A rule left with
// no sources disappears, as upstream.
func (c *Cloud) revoke(op, region, groupID string, perms []cloud.Permission, side func(*cloud.SecurityGroup) *[]cloud.Permission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op, groupID); err != nil {
		return err
	}
	g, ok := lookup[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup, groupID)
	if !ok {
		return notFound(engine.TypeSecurityGroup, groupID)
	}
	rules := side(g)
	current := copyPermissions(*rules)
	for _, revoke := range perms {
		kept := make([]cloud.Permission, 0, len(current))
		for _, rule := range current {
			if rule.Protocol == revoke.Protocol && rule.FromPort == revoke.FromPort && rule.ToPort == revoke.ToPort {
				for _, cidr := range revoke.CIDRs {
					rule.CIDRs = without(rule.CIDRs, cidr)
				}
				for _, ref := range revoke.GroupRefs {
					rule.GroupRefs = without(rule.GroupRefs, ref)
				}
				if len(rule.CIDRs) == 0 && len(rule.GroupRefs) == 0 {
					continue
				}
			}
			kept = append(kept, rule)
		}
		current = kept
	}
	*rules = current
	return nil
}

// DeleteSecurityGroup refuses the default group and any group still used by
// an instance, an interface or another group's rules.
func (c *Cloud) DeleteSecurityGroup(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteSecurityGroup", id); err != nil {
		return err
	}
	g, ok := lookup[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup, id)
	if !ok {
		return notFound(engine.TypeSecurityGroup, id)
	}
	if g.IsDefault() {
		return cloud.NewAPIError("CannotDelete", "the default security group %s cannot be deleted", id)
	}
	for _, other := range all[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup) {
		if other.ID == id {
			continue
		}
		for _, p := range append(append([]cloud.Permission(nil), other.Ingress...), other.Egress...) {
			if p.References(id) {
				return dependencyViolation(engine.TypeSecurityGroup, id, other.ID)
			}
		}
	}
	for _, i := range all[cloud.Instance](c, region, engine.TypeInstance) {
		if i.State != cloud.InstanceTerminated && contains(i.SecurityGroupIDs, id) {
			return dependencyViolation(engine.TypeSecurityGroup, id, i.ID)
		}
	}
	for _, n := range all[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface) {
		if contains(n.SecurityGroupIDs, id) {
			return dependencyViolation(engine.TypeSecurityGroup, id, n.ID)
		}
	}
	c.remove(region, engine.TypeSecurityGroup, id)
	return nil
}
