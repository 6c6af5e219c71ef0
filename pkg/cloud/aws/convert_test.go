package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

func TestEC2Filters(t *testing.T) {
	f := cloud.Filter{
		VpcID:      "vpc-1",
		InstanceID: "i-1",
		GroupID:    "sg-1",
		Tags:       map[string]string{"pockitect:project": "demo"},
	}

	filters := ec2Filters(f, eniFilterNames)
	got := make(map[string]string)
	for _, flt := range filters {
		got[aws.ToString(flt.Name)] = flt.Values[0]
	}

	want := map[string]string{
		"vpc-id":                 "vpc-1",
		"attachment.instance-id": "i-1",
		"group-id":               "sg-1",
		"tag:pockitect:project":  "demo",
	}
	if len(got) != len(want) {
		t.Fatalf("filters = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("filter %s = %q, want %q", k, got[k], v)
		}
	}

	if filters := ec2Filters(cloud.Filter{SubnetID: "subnet-1"}, vpcFilterNames); len(filters) != 0 {
		t.Errorf("unmapped field produced filters: %v", filters)
	}
}

func TestConvertInstance(t *testing.T) {
	inst := convertInstance(ec2types.Instance{
		InstanceId:      aws.String("i-1"),
		State:           &ec2types.InstanceState{Name: ec2types.InstanceStateNameShuttingDown},
		SubnetId:        aws.String("subnet-1"),
		PublicIpAddress: aws.String("1.2.3.4"),
		SecurityGroups:  []ec2types.GroupIdentifier{{GroupId: aws.String("sg-1")}},
		BlockDeviceMappings: []ec2types.InstanceBlockDeviceMapping{
			{Ebs: &ec2types.EbsInstanceBlockDevice{VolumeId: aws.String("vol-1")}},
			{},
		},
		Tags: []ec2types.Tag{{Key: aws.String("Name"), Value: aws.String("web")}},
	})

	if inst.State != cloud.InstanceShuttingDown {
		t.Errorf("State = %q, want %q", inst.State, cloud.InstanceShuttingDown)
	}
	if len(inst.VolumeIDs) != 1 || inst.VolumeIDs[0] != "vol-1" {
		t.Errorf("VolumeIDs = %v", inst.VolumeIDs)
	}
	if len(inst.SecurityGroupIDs) != 1 || inst.Tags["Name"] != "web" || inst.PublicIP != "1.2.3.4" {
		t.Errorf("unexpected instance %+v", inst)
	}
}

func TestConvertNetworkInterfacePrimary(t *testing.T) {
	eni := convertNetworkInterface(ec2types.NetworkInterface{
		NetworkInterfaceId: aws.String("eni-1"),
		Attachment: &ec2types.NetworkInterfaceAttachment{
			AttachmentId: aws.String("attach-1"),
			InstanceId:   aws.String("i-1"),
			DeviceIndex:  aws.Int32(0),
		},
	})
	if !eni.Primary() {
		t.Error("device index 0 should be primary")
	}

	detached := convertNetworkInterface(ec2types.NetworkInterface{NetworkInterfaceId: aws.String("eni-2")})
	if detached.Attachment != nil || detached.Primary() {
		t.Errorf("detached interface = %+v", detached)
	}
}

func TestPermissionsRoundTrip(t *testing.T) {
	perms := []cloud.Permission{
		{Protocol: "tcp", FromPort: 22, ToPort: 22, CIDRs: []string{"10.0.0.0/16", "::/0"}},
		{Protocol: "-1", GroupRefs: []string{"sg-2"}},
	}

	sdk := toIPPermissions(perms)
	if len(sdk[0].IpRanges) != 1 || len(sdk[0].Ipv6Ranges) != 1 {
		t.Errorf("cidrs not split by family: %+v", sdk[0])
	}
	if sdk[1].FromPort != nil {
		t.Error("all-traffic rule should not carry ports")
	}

	back := fromIPPermissions(sdk)
	if !back[1].References("sg-2") {
		t.Error("group reference lost")
	}
	if back[0].FromPort != 22 || len(back[0].CIDRs) != 2 {
		t.Errorf("rule = %+v", back[0])
	}
}

func TestTranslateASGError(t *testing.T) {
	missing := &smithy.GenericAPIError{Code: "ValidationError", Message: "AutoScalingGroup name not found - web"}
	if err := translateASGError(missing, "web"); !cloud.IsNotFound(err) {
		t.Errorf("translateASGError() = %v, want not found", err)
	}

	other := &smithy.GenericAPIError{Code: "ResourceInUse", Message: "scaling activity in progress"}
	if err := translateASGError(other, "web"); !errors.Is(err, other) {
		t.Errorf("translateASGError() = %v, want passthrough", err)
	}
}

func TestSDKErrorsClassify(t *testing.T) {
	ref := engine.ResourceRef{ID: "sg-1", Type: engine.TypeSecurityGroup, Region: "us-east-1"}
	err := cloud.Classify(&smithy.GenericAPIError{Code: "DependencyViolation", Message: "resource sg-1 has a dependent object"}, ref, "delete")
	if engine.Reason(err) != engine.ReasonStillReferenced {
		t.Errorf("Reason() = %s, want still_referenced", engine.Reason(err))
	}
}

func TestRegionClientsCached(t *testing.T) {
	loads := 0
	p := New(Options{
		LoadConfig: func(ctx context.Context, region string) (aws.Config, error) {
			loads++
			return aws.Config{Region: region}, nil
		},
	})

	ctx := context.Background()
	for _, region := range []string{"us-east-1", "global", "", "eu-west-1"} {
		if _, err := p.region(ctx, region); err != nil {
			t.Fatalf("region(%q) error = %v", region, err)
		}
	}
	if loads != 2 {
		t.Errorf("config loads = %d, want 2", loads)
	}
	if p.Name() != "aws" {
		t.Errorf("Name() = %q", p.Name())
	}
}
