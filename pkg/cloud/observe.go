package cloud

import (
	"context"

	"github.com/pockitect/pockitect/pkg/engine"
)

// Observation is the live view of one resource.
type Observation struct {
	Exists bool
	State  string
	Tags   map[string]string
}

type observeFunc func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error)

func present(state string, tags map[string]string) *Observation {
	return &Observation{Exists: true, State: state, Tags: tags}
}

var observers = map[engine.ResourceType]observeFunc{
	engine.TypeInstance: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		i, err := p.DescribeInstance(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		if i.State == InstanceTerminated || i.State == InstanceShuttingDown {
			return &Observation{State: i.State, Tags: i.Tags}, nil
		}
		return present(i.State, i.Tags), nil
	},
	engine.TypeVPC: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		v, err := p.DescribeVpc(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(v.State, v.Tags), nil
	},
	engine.TypeSubnet: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		s, err := p.DescribeSubnet(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(s.State, s.Tags), nil
	},
	engine.TypeSecurityGroup: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		g, err := p.DescribeSecurityGroup(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", g.Tags), nil
	},
	engine.TypeNetworkInterface: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		n, err := p.DescribeNetworkInterface(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(n.Status, n.Tags), nil
	},
	engine.TypeInternetGateway: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		g, err := p.DescribeInternetGateway(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", g.Tags), nil
	},
	engine.TypeNatGateway: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		n, err := p.DescribeNatGateway(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		if n.State == NatGatewayDeleted {
			return &Observation{State: n.State, Tags: n.Tags}, nil
		}
		return present(n.State, n.Tags), nil
	},
	engine.TypeRouteTable: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		r, err := p.DescribeRouteTable(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", r.Tags), nil
	},
	engine.TypeNetworkACL: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		a, err := p.DescribeNetworkACL(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", a.Tags), nil
	},
	engine.TypeVPCEndpoint: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		e, err := p.DescribeVpcEndpoint(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		if e.State == "deleted" {
			return &Observation{State: e.State}, nil
		}
		return present(e.State, nil), nil
	},
	engine.TypePeeringConnection: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		c, err := p.DescribePeeringConnection(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		if c.State == "deleted" {
			return &Observation{State: c.State}, nil
		}
		return present(c.State, nil), nil
	},
	engine.TypeElasticIP: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		a, err := p.DescribeAddress(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", a.Tags), nil
	},
	engine.TypeVolume: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		v, err := p.DescribeVolume(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		if v.State == VolumeDeleted {
			return &Observation{State: v.State, Tags: v.Tags}, nil
		}
		return present(v.State, v.Tags), nil
	},
	engine.TypeKeyPair: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		k, err := p.DescribeKeyPair(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", k.Tags), nil
	},
	engine.TypeLoadBalancer: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		lb, err := p.DescribeLoadBalancer(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(lb.State, nil), nil
	},
	engine.TypeClassicLoadBalancer: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		lb, err := p.DescribeClassicLoadBalancer(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(lb.State, nil), nil
	},
	engine.TypeAutoScalingGroup: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		g, err := p.DescribeAutoScalingGroup(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(g.Status, nil), nil
	},
	engine.TypeDBInstance: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		d, err := p.DescribeDBInstance(ctx, ref.Region, ref.ID)
		if err != nil {
			return nil, err
		}
		return present(d.Status, d.Tags), nil
	},
	engine.TypeBucket: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		b, err := p.DescribeBucket(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", b.Tags), nil
	},
	engine.TypeRole: func(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
		r, err := p.DescribeRole(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return present("", r.Tags), nil
	},
}

// Observe describes ref. A resource the provider reports missing, or in a
// terminal gone state, yields Exists == false with a nil error.
func Observe(ctx context.Context, p Provider, ref engine.ResourceRef) (*Observation, error) {
	fn, ok := observers[ref.Type]
	if !ok {
		return nil, engine.NewUnsupportedError(ref)
	}
	obs, err := fn(ctx, p, ref)
	if err != nil {
		if IsNotFound(err) {
			return &Observation{}, nil
		}
		return nil, Classify(err, ref, "describe")
	}
	return obs, nil
}
