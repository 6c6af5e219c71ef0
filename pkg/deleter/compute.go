package deleter

import (
	"context"
	"fmt"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

// deleteInstance terminates and waits. When the wait runs out the state is
// read once more: an instance that is gone or already shutting down is a
// success.
func (d *Deleter) deleteInstance(ctx context.Context, ref engine.ResourceRef) error {
	if err := d.provider.TerminateInstance(ctx, ref.Region, ref.ID); err != nil {
		return err
	}
	d.logger.Info().Str("resource", ref.String()).Msg("terminating instance")

	werr := d.waitInstanceTerminated(ctx, ref.Region, ref.ID)
	if werr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return werr
	}

	inst, err := d.provider.DescribeInstance(ctx, ref.Region, ref.ID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil
		}
		return timeout(ref, "terminate", "instance termination could not be verified",
			fmt.Errorf("%w (verify: %v)", werr, err))
	}
	switch inst.State {
	case cloud.InstanceTerminated, cloud.InstanceShuttingDown:
		d.logger.Info().Str("resource", ref.String()).Str("state", inst.State).
			Msg("instance terminating, verified after wait timeout")
		return nil
	}
	return timeout(ref, "terminate", "instance termination incomplete", werr).
		WithDetail("state", inst.State)
}

func (d *Deleter) waitInstanceTerminated(ctx context.Context, region, id string) error {
	return d.waitGone(ctx, d.waits.Instance, func(ctx context.Context) (bool, error) {
		inst, err := d.provider.DescribeInstance(ctx, region, id)
		if err != nil {
			return false, err
		}
		return inst.State == cloud.InstanceTerminated, nil
	})
}

// deleteVolume frees the volume before deleting it. An instance that still
// holds the volume is terminated first.
func (d *Deleter) deleteVolume(ctx context.Context, ref engine.ResourceRef) error {
	vol, err := d.provider.DescribeVolume(ctx, ref.Region, ref.ID)
	if err != nil {
		return err
	}
	if vol.State == cloud.VolumeDeleted {
		return nil
	}

	attached := vol.State == cloud.VolumeInUse
	for _, att := range vol.Attachments {
		if att.InstanceID == "" || (att.State != "" && att.State != "attached" && att.State != "attaching") {
			continue
		}
		attached = true
		if err := d.releaseInstance(ctx, ref, att.InstanceID); err != nil {
			return err
		}
		if err := d.provider.DetachVolume(ctx, ref.Region, ref.ID, true); err != nil {
			switch {
			case cloud.IsNotFound(err):
			case cloud.Code(err) == "VolumeInUse" || cloud.Code(err) == "IncorrectState":
				d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("volume still in use, waiting")
			default:
				return err
			}
		}
	}

	if attached {
		werr := d.waitGone(ctx, d.waits.Volume, func(ctx context.Context) (bool, error) {
			v, err := d.provider.DescribeVolume(ctx, ref.Region, ref.ID)
			if err != nil {
				return false, err
			}
			return v.State == cloud.VolumeAvailable || v.State == cloud.VolumeDeleted, nil
		})
		if werr != nil {
			d.logger.Warn().Err(werr).Str("resource", ref.String()).Msg("volume did not become available")
		}
	}

	if err := d.provider.DeleteVolume(ctx, ref.Region, ref.ID); err != nil {
		if cloud.Code(err) == "VolumeInUse" {
			return engine.NewStillReferencedError(ref, err).WithProviderCode(cloud.Code(err))
		}
		return err
	}
	return nil
}

// releaseInstance makes sure the instance holding a volume is gone.
func (d *Deleter) releaseInstance(ctx context.Context, ref engine.ResourceRef, instanceID string) error {
	inst, err := d.provider.DescribeInstance(ctx, ref.Region, instanceID)
	if err != nil {
		if cloud.IsNotFound(err) {
			return nil
		}
		return err
	}

	switch inst.State {
	case cloud.InstanceTerminated:
		return nil
	case cloud.InstanceShuttingDown:
	default:
		d.logger.Info().Str("resource", ref.String()).Str("instance", instanceID).
			Msg("volume attached to active instance, terminating it")
		if err := d.provider.TerminateInstance(ctx, ref.Region, instanceID); err != nil &&
			!cloud.IsNotFound(err) && cloud.Code(err) != "IncorrectInstanceState" {
			d.logger.Warn().Err(err).Str("instance", instanceID).Msg("could not terminate instance")
		}
	}

	if err := d.waitInstanceTerminated(ctx, ref.Region, instanceID); err != nil {
		return engine.NewStillReferencedError(ref,
			fmt.Errorf("attached to instance %s which must be terminated first: %w", instanceID, err))
	}
	return nil
}

func (d *Deleter) deleteKeyPair(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteKeyPair(ctx, ref.Region, ref.ID)
}
