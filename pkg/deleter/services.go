package deleter

import (
	"context"
	"strings"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func (d *Deleter) deleteDBInstance(ctx context.Context, ref engine.ResourceRef) error {
	if err := d.provider.DeleteDBInstance(ctx, ref.Region, ref.ID); err != nil {
		return err
	}
	d.waitBestEffort(ctx, ref, d.waits.Database, func(ctx context.Context) (bool, error) {
		_, err := d.provider.DescribeDBInstance(ctx, ref.Region, ref.ID)
		return false, err
	})
	return nil
}

// deleteBucket empties the bucket, including object versions, then deletes it.
func (d *Deleter) deleteBucket(ctx context.Context, ref engine.ResourceRef) error {
	if err := d.provider.EmptyBucket(ctx, ref.ID); err != nil {
		if cloud.IsNotFound(err) {
			return err
		}
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("failed to empty bucket")
	}
	return d.provider.DeleteBucket(ctx, ref.ID)
}

func (d *Deleter) deleteLoadBalancer(ctx context.Context, ref engine.ResourceRef) error {
	if err := d.provider.DeleteLoadBalancer(ctx, ref.Region, ref.ID); err != nil {
		return err
	}
	d.waitBestEffort(ctx, ref, d.waits.LoadBalancer, func(ctx context.Context) (bool, error) {
		_, err := d.provider.DescribeLoadBalancer(ctx, ref.Region, ref.ID)
		return false, err
	})
	return nil
}

func (d *Deleter) deleteClassicLoadBalancer(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteClassicLoadBalancer(ctx, ref.Region, ref.ID)
}

// deleteAutoScalingGroup force deletes, taking the group's instances with it.
func (d *Deleter) deleteAutoScalingGroup(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteAutoScalingGroup(ctx, ref.Region, ref.ID)
}

// ServiceRolePrefix marks roles owned by the provider itself.
const ServiceRolePrefix = "AWSServiceRoleFor"

// InstanceProfileName is the profile created alongside a role.
func InstanceProfileName(role string) string {
	return role + "-profile"
}

// deleteRole unhooks the role from its instance profile and policies before
// deleting it. Provider service roles are never touched.
func (d *Deleter) deleteRole(ctx context.Context, ref engine.ResourceRef) error {
	role := ref.ID
	if strings.HasPrefix(role, ServiceRolePrefix) || strings.Contains(role, "/aws-service-role/") {
		d.logger.Info().Str("resource", ref.String()).Msg("skipping protected service role")
		return nil
	}

	profile := InstanceProfileName(role)
	if err := d.provider.RemoveRoleFromInstanceProfile(ctx, profile, role); err != nil && !cloud.IsNotFound(err) {
		d.logger.Warn().Err(err).Str("resource", ref.String()).Str("profile", profile).
			Msg("failed to remove role from instance profile")
	}
	if err := d.provider.DeleteInstanceProfile(ctx, profile); err != nil && !cloud.IsNotFound(err) {
		d.logger.Warn().Err(err).Str("resource", ref.String()).Str("profile", profile).
			Msg("failed to delete instance profile")
	}

	if arns, err := d.provider.ListAttachedRolePolicies(ctx, role); err != nil {
		if cloud.IsNotFound(err) {
			return err
		}
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("failed to list attached policies")
	} else {
		for _, arn := range arns {
			if err := d.provider.DetachRolePolicy(ctx, role, arn); err != nil && !cloud.IsNotFound(err) {
				d.logger.Warn().Err(err).Str("resource", ref.String()).Str("policy", arn).Msg("failed to detach policy")
			}
		}
	}

	if names, err := d.provider.ListRolePolicies(ctx, role); err != nil {
		if cloud.IsNotFound(err) {
			return err
		}
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("failed to list inline policies")
	} else {
		for _, name := range names {
			if err := d.provider.DeleteRolePolicy(ctx, role, name); err != nil && !cloud.IsNotFound(err) {
				d.logger.Warn().Err(err).Str("resource", ref.String()).Str("policy", name).Msg("failed to delete inline policy")
			}
		}
	}

	return d.provider.DeleteRole(ctx, role)
}
