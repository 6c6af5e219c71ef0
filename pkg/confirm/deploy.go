package confirm

import (
	"context"
	"sort"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

type deployPayload struct {
	Project               string   `json:"project"`
	Region                string   `json:"region"`
	ExpectedResourceTypes []string `json:"expected_resource_types"`
}

// DeployResult is the outcome of one deploy confirmation.
type DeployResult struct {
	State   engine.ConfirmationState
	Found   []string
	Missing []string
}

// typeFinder reports whether any resource of one type in region carries
// the project's tag.
type typeFinder func(ctx context.Context, p cloud.Provider, region, project string) (bool, error)

func owns(tags map[string]string, project string) bool {
	for _, p := range engine.ProjectsOf(tags) {
		if p == project {
			return true
		}
	}
	return false
}

var finders = map[engine.ResourceType]typeFinder{
	engine.TypeVPC: func(ctx context.Context, p cloud.Provider, region, project string) (bool, error) {
		vpcs, err := p.DescribeVpcs(ctx, region, cloud.Filter{})
		if err != nil {
			return false, err
		}
		for _, v := range vpcs {
			if owns(v.Tags, project) {
				return true, nil
			}
		}
		return false, nil
	},
	engine.TypeSubnet: func(ctx context.Context, p cloud.Provider, region, project string) (bool, error) {
		subnets, err := p.DescribeSubnets(ctx, region, cloud.Filter{})
		if err != nil {
			return false, err
		}
		for _, sn := range subnets {
			if owns(sn.Tags, project) {
				return true, nil
			}
		}
		return false, nil
	},
	engine.TypeSecurityGroup: func(ctx context.Context, p cloud.Provider, region, project string) (bool, error) {
		groups, err := p.DescribeSecurityGroups(ctx, region, cloud.Filter{})
		if err != nil {
			return false, err
		}
		for _, g := range groups {
			if owns(g.Tags, project) {
				return true, nil
			}
		}
		return false, nil
	},
	engine.TypeInstance: func(ctx context.Context, p cloud.Provider, region, project string) (bool, error) {
		instances, err := p.DescribeInstances(ctx, region, cloud.Filter{})
		if err != nil {
			return false, err
		}
		for _, i := range instances {
			if i.State == cloud.InstanceTerminated || i.State == cloud.InstanceShuttingDown {
				continue
			}
			if owns(i.Tags, project) {
				return true, nil
			}
		}
		return false, nil
	},
	engine.TypeDBInstance: func(ctx context.Context, p cloud.Provider, region, project string) (bool, error) {
		dbs, err := p.DescribeDBInstances(ctx, region, cloud.Filter{})
		if err != nil {
			return false, err
		}
		for _, d := range dbs {
			if owns(d.Tags, project) {
				return true, nil
			}
		}
		return false, nil
	},
	engine.TypeBucket: func(ctx context.Context, p cloud.Provider, _, project string) (bool, error) {
		buckets, err := p.ListBuckets(ctx)
		if err != nil {
			return false, err
		}
		for _, b := range buckets {
			if owns(b.Tags, project) {
				return true, nil
			}
		}
		return false, nil
	},
}

// ConfirmDeploy polls until every expected resource type is observed with
// the project's tag, then publishes deploy_confirmed or
// deploy_confirm_error naming the found and missing types.
func (s *Service) ConfirmDeploy(ctx context.Context, requestID, project, region string, expected []string) DeployResult {
	ctx, end := s.startSpan(ctx, KindDeploy, requestID)
	if region == "" {
		region = s.region
	}
	if expected == nil {
		expected = []string{}
	}

	found := map[string]bool{}
	if project != "" {
		_, _ = s.pollFor(ctx, s.settings.Deploy, s.deadline(s.settings.Deploy), func(ctx context.Context) (bool, error) {
			found = s.findDeployed(ctx, project, region, expected)
			for _, t := range expected {
				if !found[t] {
					return false, nil
				}
			}
			return true, nil
		})
	}

	res := DeployResult{Found: []string{}, Missing: []string{}}
	for t := range found {
		res.Found = append(res.Found, t)
	}
	sort.Strings(res.Found)
	for _, t := range expected {
		if !found[t] {
			res.Missing = append(res.Missing, t)
		}
	}

	data := map[string]any{
		"project":                 project,
		"region":                  region,
		"expected_resource_types": expected,
		"found_resource_types":    res.Found,
	}
	if len(res.Missing) > 0 {
		res.State = engine.ConfirmationTimedOut
		if project == "" {
			res.State = engine.ConfirmationDegraded
		}
		data["missing_resource_types"] = res.Missing
		data["error"] = "Deployment confirmation failed."
		s.publish(ctx, bus.NewStatus(bus.EventDeployConfirmError, requestID, bus.StatusError, data))
	} else {
		res.State = engine.ConfirmationConfirmed
		data["message"] = "Deployment confirmed."
		s.publish(ctx, bus.NewStatus(bus.EventDeployConfirmed, requestID, bus.StatusSuccess, data))
	}

	s.logger.Info().Str("request_id", requestID).Str("project", project).Str("region", region).
		Strs("missing", res.Missing).Str("state", string(res.State)).Msg("deploy confirmation finished")
	end(res.State)
	return res
}

// findDeployed checks each expected type. A failed lookup for one type
// counts as not found yet and does not stop the others.
func (s *Service) findDeployed(ctx context.Context, project, region string, expected []string) map[string]bool {
	found := map[string]bool{}
	for _, t := range expected {
		find, ok := finders[engine.ResourceType(t)]
		if !ok {
			continue
		}
		hit, err := find(ctx, s.provider, region, project)
		if err != nil {
			s.logger.Warn().Err(err).Str("resource_type", t).Str("region", region).Msg("deploy lookup failed")
			continue
		}
		if hit {
			found[t] = true
		}
	}
	return found
}
