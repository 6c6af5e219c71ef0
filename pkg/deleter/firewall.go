package deleter

import (
	"context"
	"strings"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

// deleteSecurityGroup clears the group's own rules, then the rules in
// sibling groups that point at it, then deletes it. Rule clearing is best
// effort; the delete call decides the outcome. The default group is
// skipped.
func (d *Deleter) deleteSecurityGroup(ctx context.Context, ref engine.ResourceRef) error {
	group, err := d.provider.DescribeSecurityGroup(ctx, ref.Region, ref.ID)
	switch {
	case err == nil:
		if group.IsDefault() {
			d.logger.Info().Str("resource", ref.String()).
				Msg("skipping default security group, removed with its network")
			return nil
		}
		d.revokeOwnRules(ctx, ref, group)
		d.revokeReferences(ctx, ref, group.VpcID)
	case cloud.IsNotFound(err):
		return err
	default:
		d.logger.Warn().Err(err).Str("resource", ref.String()).Str("code", cloud.Code(err)).
			Msg("failed to clear security group rules, deleting anyway")
	}

	err = d.provider.DeleteSecurityGroup(ctx, ref.Region, ref.ID)
	if err == nil {
		return nil
	}
	if cloud.Code(err) == "CannotDelete" && strings.Contains(err.Error(), "default") {
		d.logger.Info().Str("resource", ref.String()).
			Msg("skipping default security group, removed with its network")
		return nil
	}
	if cloud.IsDependencyViolation(err) || cloud.Code(err) == "CannotDelete" {
		return engine.NewStillReferencedError(ref, err).WithProviderCode(cloud.Code(err))
	}
	return err
}

func (d *Deleter) revokeOwnRules(ctx context.Context, ref engine.ResourceRef, group *cloud.SecurityGroup) {
	if len(group.Ingress) > 0 {
		if err := d.provider.RevokeIngress(ctx, ref.Region, group.ID, group.Ingress); err != nil {
			d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("failed to revoke ingress rules")
		}
	}
	if len(group.Egress) > 0 {
		if err := d.provider.RevokeEgress(ctx, ref.Region, group.ID, group.Egress); err != nil {
			d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("failed to revoke egress rules")
		}
	}
}

// revokeReferences removes rules in other groups of the same network that
// name ref as their source or destination.
func (d *Deleter) revokeReferences(ctx context.Context, ref engine.ResourceRef, vpcID string) {
	groups, err := d.provider.DescribeSecurityGroups(ctx, ref.Region, cloud.Filter{VpcID: vpcID})
	if err != nil {
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("failed to list sibling security groups")
		return
	}

	for _, other := range groups {
		if other.ID == ref.ID {
			continue
		}
		if perms := referencing(other.Ingress, ref.ID); len(perms) > 0 {
			if err := d.provider.RevokeIngress(ctx, ref.Region, other.ID, perms); err != nil && cloud.Code(err) != "InvalidPermission.NotFound" {
				d.logger.Warn().Err(err).Str("resource", ref.String()).Str("group", other.ID).
					Msg("failed to revoke referencing ingress rules")
			}
		}
		if perms := referencing(other.Egress, ref.ID); len(perms) > 0 {
			if err := d.provider.RevokeEgress(ctx, ref.Region, other.ID, perms); err != nil && cloud.Code(err) != "InvalidPermission.NotFound" {
				d.logger.Warn().Err(err).Str("resource", ref.String()).Str("group", other.ID).
					Msg("failed to revoke referencing egress rules")
			}
		}
	}
}

// referencing returns, for each rule naming groupID, a rule that revokes
// only that group reference.
func referencing(perms []cloud.Permission, groupID string) []cloud.Permission {
	var out []cloud.Permission
	for _, p := range perms {
		if !p.References(groupID) {
			continue
		}
		out = append(out, cloud.Permission{
			Protocol:  p.Protocol,
			FromPort:  p.FromPort,
			ToPort:    p.ToPort,
			GroupRefs: []string{groupID},
		})
	}
	return out
}
