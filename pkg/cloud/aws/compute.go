package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/pockitect/pockitect/pkg/cloud"
)

var instanceFilterNames = map[string]string{
	"vpc":       "vpc-id",
	"subnet":    "subnet-id",
	"group":     "instance.group-id",
	"public_ip": "ip-address",
}

func convertInstance(i ec2types.Instance) cloud.Instance {
	out := cloud.Instance{
		ID:           aws.ToString(i.InstanceId),
		InstanceType: string(i.InstanceType),
		ImageID:      aws.ToString(i.ImageId),
		VpcID:        aws.ToString(i.VpcId),
		SubnetID:     aws.ToString(i.SubnetId),
		PrivateIP:    aws.ToString(i.PrivateIpAddress),
		PublicIP:     aws.ToString(i.PublicIpAddress),
		LaunchTime:   aws.ToTime(i.LaunchTime),
		Tags:         fromEC2Tags(i.Tags),
	}
	if i.State != nil {
		out.State = string(i.State.Name)
	}
	for _, g := range i.SecurityGroups {
		out.SecurityGroupIDs = append(out.SecurityGroupIDs, aws.ToString(g.GroupId))
	}
	for _, m := range i.BlockDeviceMappings {
		if m.Ebs != nil && m.Ebs.VolumeId != nil {
			out.VolumeIDs = append(out.VolumeIDs, aws.ToString(m.Ebs.VolumeId))
		}
	}
	return out
}

// DescribeInstances lists instances matching f.
func (p *Provider) DescribeInstances(ctx context.Context, region string, f cloud.Filter) ([]cloud.Instance, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	in := &ec2.DescribeInstancesInput{InstanceIds: f.IDs, Filters: ec2Filters(f, instanceFilterNames)}
	if f.InstanceID != "" {
		in.InstanceIds = append(in.InstanceIds, f.InstanceID)
	}

	var out []cloud.Instance
	pager := ec2.NewDescribeInstancesPaginator(client, in)
	err = pages(ctx, p, "DescribeInstances", pager.HasMorePages, pager.NextPage, func(page *ec2.DescribeInstancesOutput) {
		for _, r := range page.Reservations {
			for _, i := range r.Instances {
				out = append(out, convertInstance(i))
			}
		}
	})
	return out, err
}

// DescribeInstance returns one instance.
func (p *Provider) DescribeInstance(ctx context.Context, region, id string) (*cloud.Instance, error) {
	instances, err := p.DescribeInstances(ctx, region, cloud.Filter{IDs: []string{id}})
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, notFound("InvalidInstanceID.NotFound", "instance %s does not exist", id)
	}
	return &instances[0], nil
}

// RunInstance launches one instance.
func (p *Provider) RunInstance(ctx context.Context, region string, spec cloud.InstanceSpec) (*cloud.Instance, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	in := &ec2.RunInstancesInput{
		ImageId:           aws.String(spec.ImageID),
		InstanceType:      ec2types.InstanceType(spec.InstanceType),
		MinCount:          aws.Int32(1),
		MaxCount:          aws.Int32(1),
		SubnetId:          aws.String(spec.SubnetID),
		SecurityGroupIds:  spec.SecurityGroupIDs,
		TagSpecifications: toEC2TagSpec(ec2types.ResourceTypeInstance, spec.Tags),
	}
	if spec.KeyName != "" {
		in.KeyName = aws.String(spec.KeyName)
	}

	var res *ec2.RunInstancesOutput
	err = p.call(ctx, "RunInstances", func(ctx context.Context) error {
		var err error
		res, err = client.RunInstances(ctx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.Instances) == 0 {
		return nil, cloud.NewAPIError("InvalidResponse", "run instances returned no instance")
	}
	inst := convertInstance(res.Instances[0])
	return &inst, nil
}

// StartInstance starts a stopped instance.
func (p *Provider) StartInstance(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "StartInstances", func(ctx context.Context) error {
		_, err := client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
		return err
	})
}

// StopInstance stops a running instance.
func (p *Provider) StopInstance(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "StopInstances", func(ctx context.Context) error {
		_, err := client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id}})
		return err
	})
}

// TerminateInstance issues terminate; it does not wait.
func (p *Provider) TerminateInstance(ctx context.Context, region, id string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "TerminateInstances", func(ctx context.Context) error {
		_, err := client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
		return err
	})
}

// DescribeKeyPair returns one key pair by name.
func (p *Provider) DescribeKeyPair(ctx context.Context, region, name string) (*cloud.KeyPair, error) {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return nil, err
	}
	var res *ec2.DescribeKeyPairsOutput
	err = p.call(ctx, "DescribeKeyPairs", func(ctx context.Context) error {
		var err error
		res, err = client.DescribeKeyPairs(ctx, &ec2.DescribeKeyPairsInput{KeyNames: []string{name}})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(res.KeyPairs) == 0 {
		return nil, notFound("InvalidKeyPair.NotFound", "key pair %s does not exist", name)
	}
	kp := res.KeyPairs[0]
	return &cloud.KeyPair{
		Name: aws.ToString(kp.KeyName),
		ID:   aws.ToString(kp.KeyPairId),
		Tags: fromEC2Tags(kp.Tags),
	}, nil
}

// DeleteKeyPair deletes a key pair by name.
func (p *Provider) DeleteKeyPair(ctx context.Context, region, name string) error {
	client, err := p.ec2Client(ctx, region)
	if err != nil {
		return err
	}
	return p.call(ctx, "DeleteKeyPair", func(ctx context.Context) error {
		_, err := client.DeleteKeyPair(ctx, &ec2.DeleteKeyPairInput{KeyName: aws.String(name)})
		return err
	})
}
