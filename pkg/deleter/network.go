package deleter

import (
	"context"
	"net"
	"strings"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
)

func (d *Deleter) deleteVpc(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteVpc(ctx, ref.Region, ref.ID)
}

func (d *Deleter) deleteSubnet(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteSubnet(ctx, ref.Region, ref.ID)
}

// deleteNetworkInterface never touches the primary interface of an
// instance. Other interfaces are force detached and deleted; detaching is
// asynchronous upstream so the whole sequence is retried.
func (d *Deleter) deleteNetworkInterface(ctx context.Context, ref engine.ResourceRef) error {
	err := retry.Do(ctx, d.clock, d.waits.Interface, func(ctx context.Context) error {
		eni, err := d.provider.DescribeNetworkInterface(ctx, ref.Region, ref.ID)
		if err != nil {
			if cloud.IsNotFound(err) {
				return retry.Permanent(err)
			}
			return err
		}
		if eni.Primary() {
			d.logger.Info().Str("resource", ref.String()).
				Msg("skipping primary network interface, removed with its instance")
			return nil
		}

		if eni.Attachment != nil && eni.Attachment.ID != "" {
			if err := d.provider.DetachNetworkInterface(ctx, ref.Region, eni.Attachment.ID, true); err != nil {
				if isPrimaryRefusal(err) {
					d.logger.Info().Str("resource", ref.String()).
						Msg("skipping primary network interface, removed with its instance")
					return nil
				}
				if !cloud.IsNotFound(err) {
					return err
				}
			}
			if err := d.clock.Sleep(ctx, d.waits.DetachSettle); err != nil {
				return retry.Permanent(err)
			}
		}

		err = d.provider.DeleteNetworkInterface(ctx, ref.Region, ref.ID)
		if cloud.IsNotFound(err) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil && !cloud.IsNotFound(err) && cloud.Code(err) == "InvalidNetworkInterface.InUse" {
		return engine.NewStillReferencedError(ref, err).WithProviderCode(cloud.Code(err))
	}
	return err
}

func isPrimaryRefusal(err error) bool {
	return cloud.Code(err) == "OperationNotPermitted" &&
		strings.Contains(strings.ToLower(err.Error()), "device index 0")
}

// deleteInternetGateway detaches the gateway from every network first.
func (d *Deleter) deleteInternetGateway(ctx context.Context, ref engine.ResourceRef) error {
	igw, err := d.provider.DescribeInternetGateway(ctx, ref.Region, ref.ID)
	switch {
	case err == nil:
		for _, vpcID := range igw.VpcIDs {
			if err := d.provider.DetachInternetGateway(ctx, ref.Region, ref.ID, vpcID); err != nil && !cloud.IsNotFound(err) {
				d.logger.Warn().Err(err).Str("resource", ref.String()).Str("vpc", vpcID).
					Msg("failed to detach internet gateway")
			}
		}
	case cloud.IsNotFound(err):
		return err
	default:
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("could not describe internet gateway")
	}
	return d.provider.DeleteInternetGateway(ctx, ref.Region, ref.ID)
}

func (d *Deleter) deleteNatGateway(ctx context.Context, ref engine.ResourceRef) error {
	if err := d.provider.DeleteNatGateway(ctx, ref.Region, ref.ID); err != nil {
		return err
	}
	d.waitBestEffort(ctx, ref, d.waits.NatGateway, func(ctx context.Context) (bool, error) {
		n, err := d.provider.DescribeNatGateway(ctx, ref.Region, ref.ID)
		if err != nil {
			return false, err
		}
		return n.State == cloud.NatGatewayDeleted, nil
	})
	return nil
}

// deleteRouteTable drops subnet associations first. The main association
// stays; it goes with the network.
func (d *Deleter) deleteRouteTable(ctx context.Context, ref engine.ResourceRef) error {
	rt, err := d.provider.DescribeRouteTable(ctx, ref.Region, ref.ID)
	switch {
	case err == nil:
		for _, assoc := range rt.Associations {
			if assoc.Main {
				continue
			}
			if err := d.provider.DisassociateRouteTable(ctx, ref.Region, assoc.ID); err != nil && !cloud.IsNotFound(err) {
				d.logger.Warn().Err(err).Str("resource", ref.String()).Str("association", assoc.ID).
					Msg("failed to disassociate route table")
			}
		}
	case cloud.IsNotFound(err):
		return err
	default:
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("could not describe route table")
	}
	return d.provider.DeleteRouteTable(ctx, ref.Region, ref.ID)
}

func (d *Deleter) deleteNetworkACL(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteNetworkACL(ctx, ref.Region, ref.ID)
}

func (d *Deleter) deleteVpcEndpoint(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeleteVpcEndpoint(ctx, ref.Region, ref.ID)
}

func (d *Deleter) deletePeeringConnection(ctx context.Context, ref engine.ResourceRef) error {
	return d.provider.DeletePeeringConnection(ctx, ref.Region, ref.ID)
}

// deleteElasticIP releases by allocation id. Ids that are public addresses
// are resolved to their allocation first.
func (d *Deleter) deleteElasticIP(ctx context.Context, ref engine.ResourceRef) error {
	allocationID := ref.ID
	if net.ParseIP(ref.ID) != nil {
		addrs, err := d.provider.DescribeAddresses(ctx, ref.Region, cloud.Filter{PublicIP: ref.ID})
		if err != nil {
			return err
		}
		if len(addrs) == 0 {
			d.logger.Info().Str("resource", ref.String()).Msg("no allocation for public address")
			return nil
		}
		allocationID = addrs[0].AllocationID
	}
	return d.provider.ReleaseAddress(ctx, ref.Region, allocationID)
}
