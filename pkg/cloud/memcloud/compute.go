package memcloud

import (
	"context"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func instanceMatches(i *cloud.Instance, f cloud.Filter) bool {
	if !matchIDs(f.IDs, i.ID) {
		return false
	}
	if f.VpcID != "" && i.VpcID != f.VpcID {
		return false
	}
	if f.SubnetID != "" && i.SubnetID != f.SubnetID {
		return false
	}
	if f.GroupID != "" && !contains(i.SecurityGroupIDs, f.GroupID) {
		return false
	}
	return cloud.MatchTags(i.Tags, f.Tags)
}

func (c *Cloud) DescribeInstances(ctx context.Context, region string, f cloud.Filter) ([]cloud.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeInstances", region); err != nil {
		return nil, err
	}
	out := make([]cloud.Instance, 0)
	for _, i := range all[cloud.Instance](c, region, engine.TypeInstance) {
		if instanceMatches(i, f) {
			out = append(out, *i)
		}
	}
	return out, nil
}

func (c *Cloud) DescribeInstance(ctx context.Context, region, id string) (*cloud.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeInstance", id); err != nil {
		return nil, err
	}
	i, ok := lookup[cloud.Instance](c, region, engine.TypeInstance, id)
	if !ok {
		return nil, notFound(engine.TypeInstance, id)
	}
	c.advance(region, engine.TypeInstance, id, func(s string) { i.State = s })
	cp := *i
	return &cp, nil
}

func (c *Cloud) RunInstance(ctx context.Context, region string, spec cloud.InstanceSpec) (*cloud.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("RunInstance", spec.SubnetID); err != nil {
		return nil, err
	}
	subnet, ok := lookup[cloud.Subnet](c, region, engine.TypeSubnet, spec.SubnetID)
	if !ok {
		return nil, notFound(engine.TypeSubnet, spec.SubnetID)
	}
	for _, g := range spec.SecurityGroupIDs {
		if _, ok := lookup[cloud.SecurityGroup](c, region, engine.TypeSecurityGroup, g); !ok {
			return nil, notFound(engine.TypeSecurityGroup, g)
		}
	}

	inst := &cloud.Instance{
		ID:               c.nextID("i"),
		State:            cloud.InstanceRunning,
		InstanceType:     spec.InstanceType,
		ImageID:          spec.ImageID,
		VpcID:            subnet.VpcID,
		SubnetID:         subnet.ID,
		SecurityGroupIDs: append([]string(nil), spec.SecurityGroupIDs...),
		Tags:             copyTags(spec.Tags),
	}
	c.put(region, engine.TypeInstance, inst.ID, inst)

	eni := &cloud.NetworkInterface{
		ID:               c.nextID("eni"),
		Status:           "in-use",
		VpcID:            subnet.VpcID,
		SubnetID:         subnet.ID,
		SecurityGroupIDs: append([]string(nil), spec.SecurityGroupIDs...),
		Attachment:       &cloud.Attachment{ID: c.nextID("eni-attach"), InstanceID: inst.ID, DeviceIndex: 0},
	}
	c.put(region, engine.TypeNetworkInterface, eni.ID, eni)

	cp := *inst
	return &cp, nil
}

func (c *Cloud) StartInstance(ctx context.Context, region, id string) error {
	return c.setInstanceState("StartInstance", region, id, cloud.InstanceRunning)
}

func (c *Cloud) StopInstance(ctx context.Context, region, id string) error {
	return c.setInstanceState("StopInstance", region, id, cloud.InstanceStopped)
}

func (c *Cloud) setInstanceState(op, region, id, state string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op, id); err != nil {
		return err
	}
	i, ok := lookup[cloud.Instance](c, region, engine.TypeInstance, id)
	if !ok || i.State == cloud.InstanceTerminated {
		return notFound(engine.TypeInstance, id)
	}
	if len(c.states[key{region: region, kind: engine.TypeInstance, id: id}]) == 0 {
		i.State = state
	}
	return nil
}

// TerminateInstance marks the instance terminated, removes its primary
// interface and detaches its volumes and secondary interfaces.
func (c *Cloud) TerminateInstance(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("TerminateInstance", id); err != nil {
		return err
	}
	i, ok := lookup[cloud.Instance](c, region, engine.TypeInstance, id)
	if !ok {
		return notFound(engine.TypeInstance, id)
	}
	i.State = cloud.InstanceTerminated

	for _, n := range all[cloud.NetworkInterface](c, region, engine.TypeNetworkInterface) {
		if n.Attachment == nil || n.Attachment.InstanceID != id {
			continue
		}
		if n.Attachment.DeviceIndex == 0 {
			c.remove(region, engine.TypeNetworkInterface, n.ID)
			continue
		}
		n.Attachment = nil
		n.Status = "available"
	}
	for _, v := range all[cloud.Volume](c, region, engine.TypeVolume) {
		for _, a := range v.Attachments {
			if a.InstanceID == id {
				v.Attachments = nil
				v.State = cloud.VolumeAvailable
				break
			}
		}
	}
	for _, a := range all[cloud.Address](c, region, engine.TypeElasticIP) {
		if a.InstanceID == id {
			a.InstanceID = ""
			a.AssociationID = ""
		}
	}
	return nil
}

func (c *Cloud) DescribeKeyPair(ctx context.Context, region, name string) (*cloud.KeyPair, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeKeyPair", name); err != nil {
		return nil, err
	}
	k, ok := lookup[cloud.KeyPair](c, region, engine.TypeKeyPair, name)
	if !ok {
		return nil, notFound(engine.TypeKeyPair, name)
	}
	cp := *k
	return &cp, nil
}

func (c *Cloud) DeleteKeyPair(ctx context.Context, region, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteKeyPair", name); err != nil {
		return err
	}
	// Deleting a missing key pair succeeds upstream as well.
	c.remove(region, engine.TypeKeyPair, name)
	return nil
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
