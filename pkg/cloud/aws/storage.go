package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pockitect/pockitect/pkg/cloud"
)

var volumeFilterNames = map[string]string{"instance": "attachment.instance-id"}

// Volumes

// DescribeVolumes lists volumes matching f. InstanceID matches attached volumes.
func (p *Provider) DescribeVolumes(ctx context.Context, region string, f cloud.Filter) ([]cloud.Volume, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var out []cloud.Volume
	pager := ec2.NewDescribeVolumesPaginator(client, &ec2.DescribeVolumesInput{
		VolumeIds: f.IDs,
		Filters:   ec2Filters(f, volumeFilterNames),
	})
	err = pages(ctx, p, "DescribeVolumes", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeVolumesOutput) {
		for _, v := range page.Volumes {
			vol := cloud.Volume{
				ID:      aws.ToString(v.VolumeId),
				State:   string(v.State),
				SizeGiB: aws.ToInt32(v.Size),
				Tags:    fromEC2Tags(v.Tags),
			}
			for _, a := range v.Attachments {
				vol.Attachments = append(vol.Attachments, cloud.VolumeAttachment{
					InstanceID: aws.ToString(a.InstanceId),
					Device:     aws.ToString(a.Device),
					State:      string(a.State),
				})
			}
			out = append(out, vol)
		}
	})
	return out, err
}

// DescribeVolume returns one volume.
func (p *Provider) DescribeVolume(ctx context.Context, region, id string) (*cloud.Volume, error) {
	vols, err := p.DescribeVolumes(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(vols) == 0 {
		return nil, notFound("InvalidVolume.NotFound", "volume %s does not exist", id)
	}
	return &vols[0], nil
}

// DetachVolume detaches a volume from its instance.
func (p *Provider) DetachVolume(ctx context.Context, region, id string, force bool) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DetachVolume", func(ctx context.Context) error {
		_, err := client.DetachVolume(ctx, &ec2.DetachVolumeInput{VolumeId: aws.String(id), Force: aws.Bool(force)})
		return err
	})
}

// DeleteVolume deletes an available volume.
func (p *Provider) DeleteVolume(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteVolume", func(ctx context.Context) error {
		_, err := client.DeleteVolume(ctx, &ec2.DeleteVolumeInput{VolumeId: aws.String(id)})
		return err
	})
}

// Databases

func convertDBInstance(d rdstypes.DBInstance) cloud.DBInstance {
	out := cloud.DBInstance{
		ID:     aws.ToString(d.DBInstanceIdentifier),
		Status: aws.ToString(d.DBInstanceStatus),
		Engine: aws.ToString(d.Engine),
		Class:  aws.ToString(d.DBInstanceClass),
	}
	if d.Endpoint != nil {
		out.Endpoint = aws.ToString(d.Endpoint.Address)
	}
	if d.DBSubnetGroup != nil {
		out.VpcID = aws.ToString(d.DBSubnetGroup.VpcId)
	}
	if len(d.TagList) > 0 {
		out.Tags = make(map[string]string, len(d.TagList))
		for _, t := range d.TagList {
			out.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	}
	return out
}

// DescribeDBInstances lists database instances matching f. VpcID and Tags
// are matched client side.
func (p *Provider) DescribeDBInstances(ctx context.Context, region string, f cloud.Filter) ([]cloud.DBInstance, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	in := &rds.DescribeDBInstancesInput{}
	if len(f.IDs) > 0 {
		in.Filters = []rdstypes.Filter{{Name: aws.String("db-instance-id"), Values: f.IDs}}
	}

	var out []cloud.DBInstance
	pager := rds.NewDescribeDBInstancesPaginator(c.rds, in)
	err = pages(ctx, p, "DescribeDBInstances", pager.HasMorePages, pager.NextPage, func(page *rds.DescribeDBInstancesOutput) {
		for _, d := range page.DBInstances {
			db := convertDBInstance(d)
			if (f.VpcID == "" || db.VpcID == f.VpcID) && cloud.MatchTags(db.Tags, f.Tags) {
				out = append(out, db)
			}
		}
	})
	return out, err
}

// DescribeDBInstance returns one database instance.
func (p *Provider) DescribeDBInstance(ctx context.Context, region, id string) (*cloud.DBInstance, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *rds.DescribeDBInstancesOutput
	err = p.call(ctx, "DescribeDBInstances", func(ctx context.Context) error {
		var err error
		res, err = c.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(id)})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.DBInstances) == 0 {
		return nil, notFound("DBInstanceNotFound", "db instance %s does not exist", id)
	}
	db := convertDBInstance(res.DBInstances[0])
	return &db, nil
}

// StartDBInstance starts a stopped database.
func (p *Provider) StartDBInstance(ctx context.Context, region, id string) error {
	c, err := p.region(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "StartDBInstance", func(ctx context.Context) error {
		_, err := c.rds.StartDBInstance(ctx, &rds.StartDBInstanceInput{DBInstanceIdentifier: aws.String(id)})
		return err
	})
}

// StopDBInstance stops an available database.
func (p *Provider) StopDBInstance(ctx context.Context, region, id string) error {
	c, err := p.region(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "StopDBInstance", func(ctx context.Context) error {
		_, err := c.rds.StopDBInstance(ctx, &rds.StopDBInstanceInput{DBInstanceIdentifier: aws.String(id)})
		return err
	})
}

// DeleteDBInstance deletes a database without a final snapshot.
func (p *Provider) DeleteDBInstance(ctx context.Context, region, id string) error {
	c, err := p.region(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteDBInstance", func(ctx context.Context) error {
		_, err := c.rds.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
			DBInstanceIdentifier:   aws.String(id),
			SkipFinalSnapshot:      aws.Bool(true),
			DeleteAutomatedBackups: aws.Bool(true),
		})
		return err
	})
}

// Buckets

// bucketClient returns an S3 client in the bucket's own region.
func (p *Provider) bucketClient(ctx context.Context, name string) (*s3.Client, string, error) {
	p.mu.Lock()
	region, ok := p.bucketRegions[name]
	p.mu.Unlock()

	if !ok {
		def, err := p.region(ctx, p.opts.DefaultRegion)
		if err != nil {
			return nil, "", err
		}
		var res *s3.HeadBucketOutput
		err = p.call(ctx, "HeadBucket", func(ctx context.Context) error {
			var err error
			res, err = def.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
			return err
		})
		if err != nil {
			return nil, "", err
		}
		region = aws.ToString(res.BucketRegion)
		if region == "" {
			region = p.opts.DefaultRegion
		}
		p.mu.Lock()
		p.bucketRegions[name] = region
		p.mu.Unlock()
	}

	c, err := p.region(ctx, region)
	if err != nil {
		return nil, "", err
	}
	return c.s3, region, nil
}

// ListBuckets lists every bucket in the account.
func (p *Provider) ListBuckets(ctx context.Context) ([]cloud.Bucket, error) {
	c, err := p.region(ctx, p.opts.DefaultRegion)
	if err != nil {
		return nil, err
	}
	var out []cloud.Bucket
	pager := s3.NewListBucketsPaginator(c.s3, &s3.ListBucketsInput{})
	err = pages(ctx, p, "ListBuckets", pager.HasMorePages, pager.NextPage, func(page *s3.ListBucketsOutput) {
		for _, b := range page.Buckets {
			out = append(out, cloud.Bucket{
				Name:      aws.ToString(b.Name),
				Region:    aws.ToString(b.BucketRegion),
				CreatedAt: aws.ToTime(b.CreationDate),
			})
		}
	})
	return out, err
}

// DescribeBucket returns one bucket with its tags.
func (p *Provider) DescribeBucket(ctx context.Context, name string) (*cloud.Bucket, error) {
	client, region, err := p.bucketClient(ctx, name)
	if err != nil {
		return nil, err
	}
	bucket := &cloud.Bucket{Name: name, Region: region}

	var res *s3.GetBucketTaggingOutput
	err = p.call(ctx, "GetBucketTagging", func(ctx context.Context) error {
		var err error
		res, err = client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: aws.String(name)})
		return err
	})
	switch {
	case err == nil:
		bucket.Tags = make(map[string]string, len(res.TagSet))
		for _, t := range res.TagSet {
			bucket.Tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
	case cloud.Code(err) == "NoSuchTagSet":
	default:
		return nil, err
	}
	return bucket, nil
}

// CreateBucket creates a bucket in region and applies tags.
func (p *Provider) CreateBucket(ctx context.Context, region, name string, tags map[string]string) (*cloud.Bucket, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	in := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if region != "" && region != "us-east-1" {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	err = p.call(ctx, "CreateBucket", func(ctx context.Context) error {
		_, err := c.s3.CreateBucket(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}

	if len(tags) > 0 {
		tagging := &s3types.Tagging{}
		for k, v := range tags {
			tagging.TagSet = append(tagging.TagSet, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
		}
		err = p.call(ctx, "PutBucketTagging", func(ctx context.Context) error {
			_, err := c.s3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{Bucket: aws.String(name), Tagging: tagging})
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	p.bucketRegions[name] = region
	p.mu.Unlock()
	return &cloud.Bucket{Name: name, Region: region, Tags: tags}, nil
}

// EmptyBucket deletes every object version and delete marker.
func (p *Provider) EmptyBucket(ctx context.Context, name string) error {
	client, _, err := p.bucketClient(ctx, name)
	if err != nil {
		return err
	}

	in := &s3.ListObjectVersionsInput{Bucket: aws.String(name)}
	for {
		var page *s3.ListObjectVersionsOutput
		err := p.call(ctx, "ListObjectVersions", func(ctx context.Context) error {
			var err error
			page, err = client.ListObjectVersions(ctx, in)
			return err
		})
		if err != nil {
			return err
		}

		var objects []s3types.ObjectIdentifier
		for _, v := range page.Versions {
			objects = append(objects, s3types.ObjectIdentifier{Key: v.Key, VersionId: v.VersionId})
		}
		for _, m := range page.DeleteMarkers {
			objects = append(objects, s3types.ObjectIdentifier{Key: m.Key, VersionId: m.VersionId})
		}
		if len(objects) > 0 {
			err = p.call(ctx, "DeleteObjects", func(ctx context.Context) error {
				_, err := client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
					Bucket: aws.String(name),
					Delete: &s3types.Delete{Objects: objects, Quiet: aws.Bool(true)},
				})
				return err
			})
			if err != nil {
				return err
			}
		}

		if !aws.ToBool(page.IsTruncated) {
			return nil
		}
		in.KeyMarker = page.NextKeyMarker
		in.VersionIdMarker = page.NextVersionIdMarker
	}
}

// DeleteBucket deletes an empty bucket.
func (p *Provider) DeleteBucket(ctx context.Context, name string) error {
	client, _, err := p.bucketClient(ctx, name)
	if err != nil {
		return err
	}
	err = p.call(ctx, "DeleteBucket", func(ctx context.Context) error {
		_, err := client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
		return err
	})
	if err == nil {
		p.mu.Lock()
		delete(p.bucketRegions, name)
		p.mu.Unlock()
	}
	return err
}
