package memcloud

import (
	"context"
	"time"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func copyVolume(v *cloud.Volume) cloud.Volume {
	cp := *v
	cp.Attachments = append([]cloud.VolumeAttachment(nil), v.Attachments...)
	return cp
}

func (c *Cloud) DescribeVolumes(ctx context.Context, region string, f cloud.Filter) ([]cloud.Volume, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeVolumes", f.InstanceID); err != nil {
		return nil, err
	}
	out := make([]cloud.Volume, 0)
	for _, v := range all[cloud.Volume](c, region, engine.TypeVolume) {
		if !matchIDs(f.IDs, v.ID) || !cloud.MatchTags(v.Tags, f.Tags) {
			continue
		}
		if f.InstanceID != "" {
			attached := false
			for _, a := range v.Attachments {
				attached = attached || a.InstanceID == f.InstanceID
			}
			if !attached {
				continue
			}
		}
		out = append(out, copyVolume(v))
	}
	return out, nil
}

func (c *Cloud) DescribeVolume(ctx context.Context, region, id string) (*cloud.Volume, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeVolume", id); err != nil {
		return nil, err
	}
	v, ok := lookup[cloud.Volume](c, region, engine.TypeVolume, id)
	if !ok {
		return nil, notFound(engine.TypeVolume, id)
	}
	c.advance(region, engine.TypeVolume, id, func(s string) { v.State = s })
	cp := copyVolume(v)
	return &cp, nil
}

func (c *Cloud) DetachVolume(ctx context.Context, region, id string, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DetachVolume", id); err != nil {
		return err
	}
	v, ok := lookup[cloud.Volume](c, region, engine.TypeVolume, id)
	if !ok {
		return notFound(engine.TypeVolume, id)
	}
	v.Attachments = nil
	v.State = cloud.VolumeAvailable
	return nil
}

func (c *Cloud) DeleteVolume(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteVolume", id); err != nil {
		return err
	}
	v, ok := lookup[cloud.Volume](c, region, engine.TypeVolume, id)
	if !ok {
		return notFound(engine.TypeVolume, id)
	}
	if len(v.Attachments) > 0 || v.State == cloud.VolumeInUse {
		return cloud.NewAPIError("VolumeInUse", "Volume %s is currently attached", id)
	}
	c.remove(region, engine.TypeVolume, id)
	return nil
}

func (c *Cloud) DescribeDBInstances(ctx context.Context, region string, f cloud.Filter) ([]cloud.DBInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeDBInstances", region); err != nil {
		return nil, err
	}
	out := make([]cloud.DBInstance, 0)
	for _, d := range all[cloud.DBInstance](c, region, engine.TypeDBInstance) {
		if matchIDs(f.IDs, d.ID) && (f.VpcID == "" || d.VpcID == f.VpcID) && cloud.MatchTags(d.Tags, f.Tags) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (c *Cloud) DescribeDBInstance(ctx context.Context, region, id string) (*cloud.DBInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeDBInstance", id); err != nil {
		return nil, err
	}
	d, ok := lookup[cloud.DBInstance](c, region, engine.TypeDBInstance, id)
	if !ok {
		return nil, notFound(engine.TypeDBInstance, id)
	}
	c.advance(region, engine.TypeDBInstance, id, func(s string) { d.Status = s })
	cp := *d
	return &cp, nil
}

func (c *Cloud) StartDBInstance(ctx context.Context, region, id string) error {
	return c.setDBStatus("StartDBInstance", region, id, cloud.DBAvailable)
}

func (c *Cloud) StopDBInstance(ctx context.Context, region, id string) error {
	return c.setDBStatus("StopDBInstance", region, id, cloud.DBStopped)
}

func (c *Cloud) setDBStatus(op, region, id, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter(op, id); err != nil {
		return err
	}
	d, ok := lookup[cloud.DBInstance](c, region, engine.TypeDBInstance, id)
	if !ok {
		return notFound(engine.TypeDBInstance, id)
	}
	if len(c.states[key{region: region, kind: engine.TypeDBInstance, id: id}]) == 0 {
		d.Status = status
	}
	return nil
}

func (c *Cloud) DeleteDBInstance(ctx context.Context, region, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteDBInstance", id); err != nil {
		return err
	}
	if _, ok := lookup[cloud.DBInstance](c, region, engine.TypeDBInstance, id); !ok {
		return notFound(engine.TypeDBInstance, id)
	}
	c.remove(region, engine.TypeDBInstance, id)
	return nil
}

func (c *Cloud) ListBuckets(ctx context.Context) ([]cloud.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("ListBuckets", ""); err != nil {
		return nil, err
	}
	out := make([]cloud.Bucket, 0)
	for _, b := range all[cloud.Bucket](c, engine.GlobalRegion, engine.TypeBucket) {
		out = append(out, *b)
	}
	return out, nil
}

func (c *Cloud) DescribeBucket(ctx context.Context, name string) (*cloud.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DescribeBucket", name); err != nil {
		return nil, err
	}
	b, ok := lookup[cloud.Bucket](c, engine.GlobalRegion, engine.TypeBucket, name)
	if !ok {
		return nil, notFound(engine.TypeBucket, name)
	}
	cp := *b
	return &cp, nil
}

func (c *Cloud) CreateBucket(ctx context.Context, region, name string, tags map[string]string) (*cloud.Bucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("CreateBucket", name); err != nil {
		return nil, err
	}
	if _, ok := lookup[cloud.Bucket](c, engine.GlobalRegion, engine.TypeBucket, name); ok {
		return nil, cloud.NewAPIError("BucketAlreadyOwnedByYou", "bucket %s already exists", name)
	}
	b := &cloud.Bucket{Name: name, Region: region, CreatedAt: time.Now().UTC(), Tags: copyTags(tags)}
	c.put(engine.GlobalRegion, engine.TypeBucket, name, b)
	cp := *b
	return &cp, nil
}

func (c *Cloud) EmptyBucket(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("EmptyBucket", name); err != nil {
		return err
	}
	if _, ok := lookup[cloud.Bucket](c, engine.GlobalRegion, engine.TypeBucket, name); !ok {
		return notFound(engine.TypeBucket, name)
	}
	delete(c.bucketObjects, name)
	return nil
}

func (c *Cloud) DeleteBucket(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.enter("DeleteBucket", name); err != nil {
		return err
	}
	if _, ok := lookup[cloud.Bucket](c, engine.GlobalRegion, engine.TypeBucket, name); !ok {
		return notFound(engine.TypeBucket, name)
	}
	if c.bucketObjects[name] > 0 {
		return cloud.NewAPIError("BucketNotEmpty", "The bucket %s is not empty", name)
	}
	c.remove(engine.GlobalRegion, engine.TypeBucket, name)
	return nil
}
