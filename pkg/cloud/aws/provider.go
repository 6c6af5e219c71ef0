// Package aws implements cloud.Provider on top of aws-sdk-go-v2.
//
// Service clients are created lazily per region and cached. Every SDK call
// goes through one rate limiter and is wrapped in a provider.<op> span with
// call, duration and error metrics. SDK errors are returned as-is; the
// smithy API errors they carry satisfy the ErrorCode/ErrorMessage contract
// that cloud.Classify and cloud.IsNotFound read.
package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancing"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

const providerName = "aws"

// Options configures the provider.
type Options struct {
	// DefaultRegion serves global services (IAM, bucket listing).
	DefaultRegion string

	// RequestsPerSecond and Burst bound the SDK call rate across all regions.
	RequestsPerSecond float64
	Burst             int

	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger

	// LoadConfig overrides config.LoadDefaultConfig, mainly for tests.
	LoadConfig func(ctx context.Context, region string) (aws.Config, error)
}

type regionClients struct {
	ec2   *ec2.Client
	rds   *rds.Client
	s3    *s3.Client
	elbv2 *elasticloadbalancingv2.Client
	elb   *elasticloadbalancing.Client
	asg   *autoscaling.Client
}

// Provider is the AWS implementation of cloud.Provider.
type Provider struct {
	opts    Options
	limiter *rate.Limiter
	tel     *telemetry.Telemetry
	logger  zerolog.Logger

	mu            sync.Mutex
	clients       map[string]*regionClients
	iam           *iam.Client
	bucketRegions map[string]string
}

var _ cloud.Provider = (*Provider)(nil)

// New creates a provider. No AWS call is made until the first operation.
func New(opts Options) *Provider {
	if opts.DefaultRegion == "" {
		opts.DefaultRegion = "us-east-1"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = func(ctx context.Context, region string) (aws.Config, error) {
			return config.LoadDefaultConfig(ctx, config.WithRegion(region))
		}
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Nop()
	}
	return &Provider{
		opts:          opts,
		limiter:       rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		tel:           tel,
		logger:        opts.Logger.With().Str("component", "aws_provider").Logger(),
		clients:       make(map[string]*regionClients),
		bucketRegions: make(map[string]string),
	}
}

// Name returns "aws".
func (p *Provider) Name() string { return providerName }

func (p *Provider) region(ctx context.Context, region string) (*regionClients, error) {
	if region == "" || region == engine.GlobalRegion {
		region = p.opts.DefaultRegion
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[region]; ok {
		return c, nil
	}
	cfg, err := p.opts.LoadConfig(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config for %s: %w", region, err)
	}
	c := &regionClients{
		ec2:   ec2.NewFromConfig(cfg),
		rds:   rds.NewFromConfig(cfg),
		s3:    s3.NewFromConfig(cfg),
		elbv2: elasticloadbalancingv2.NewFromConfig(cfg),
		elb:   elasticloadbalancing.NewFromConfig(cfg),
		asg:   autoscaling.NewFromConfig(cfg),
	}
	p.clients[region] = c
	p.logger.Debug().Str("region", region).Msg("created regional clients")
	return c, nil
}

func (p *Provider) iamClient(ctx context.Context) (*iam.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.iam != nil {
		return p.iam, nil
	}
	cfg, err := p.opts.LoadConfig(ctx, p.opts.DefaultRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	p.iam = iam.NewFromConfig(cfg)
	return p.iam, nil
}

func (p *Provider) ec2Client(ctx context.Context, region string) (*ec2.Client, error) {
	c, err := p.region(ctx, region)
	if err != nil {
		return nil, err
	}
	return c.ec2, nil
}

// call waits for the rate limiter and runs fn as one observed provider call.
func (p *Provider) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.tel.ObserveProviderCall(ctx, providerName, op, fn)
}

// pages drains a paginator, observing each page as one call.
func pages[O, T any](ctx context.Context, p *Provider, op string, hasMore func() bool,
	next func(context.Context, ...func(*O)) (T, error), each func(T)) error {
	for hasMore() {
		var page T
		err := p.call(ctx, op, func(ctx context.Context) error {
			var err error
			page, err = next(ctx)
			return err
		})
		if err != nil {
			return err
		}
		each(page)
	}
	return nil
}

func notFound(code, format string, args ...interface{}) error {
	return cloud.NewAPIError(code, format, args...)
}

// ec2Filters turns a cloud.Filter into EC2 filters. names maps the generic
// fields to the filter names of the target API; fields absent from names
// are ignored.
func ec2Filters(f cloud.Filter, names map[string]string) []ec2types.Filter {
	var filters []ec2types.Filter
	add := func(field, value string) {
		name, ok := names[field]
		if !ok || value == "" {
			return
		}
		filters = append(filters, ec2types.Filter{Name: aws.String(name), Values: []string{value}})
	}
	add("vpc", f.VpcID)
	add("subnet", f.SubnetID)
	add("instance", f.InstanceID)
	add("group", f.GroupID)
	add("public_ip", f.PublicIP)
	for k, v := range f.Tags {
		filters = append(filters, ec2types.Filter{Name: aws.String("tag:" + k), Values: []string{v}})
	}
	return filters
}

func fromEC2Tags(tags []ec2types.Tag) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return out
}

func toEC2TagSpec(rt ec2types.ResourceType, tags map[string]string) []ec2types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	spec := ec2types.TagSpecification{ResourceType: rt}
	for k, v := range tags {
		spec.Tags = append(spec.Tags, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return []ec2types.TagSpecification{spec}
}
