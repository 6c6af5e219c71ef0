package confirm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/cloud/memcloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
)

const region = "us-east-1"

type capture struct {
	mu     sync.Mutex
	events []bus.Status
}

func (c *capture) PublishStatus(_ context.Context, event bus.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capture) only(t *testing.T) bus.Status {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) != 1 {
		t.Fatalf("published %d events, want 1", len(c.events))
	}
	return c.events[0]
}

// setupService returns a service polling one resource at a time so fake
// time is not shared between concurrent polls.
func setupService(t *testing.T) (*Service, *memcloud.Cloud, *capture, *retry.FakeClock) {
	t.Helper()

	c := memcloud.New()
	pub := &capture{}
	clock := retry.NewFakeClock(time.Unix(0, 0))
	s := New(c, pub, Options{
		Settings: Settings{Concurrency: 1},
		Clock:    clock,
		Logger:   zerolog.Nop(),
	})
	t.Cleanup(s.Stop)
	return s, c, pub, clock
}

func projectTags(v string) map[string]string {
	return map[string]string{engine.TagProject: v}
}

func TestTerminationOutcome(t *testing.T) {
	tests := []struct {
		name    string
		obs     cloud.Observation
		project string
		want    engine.TerminateOutcome
	}{
		{"gone", cloud.Observation{}, "web", engine.OutcomeDeleted},
		{"owned", cloud.Observation{Exists: true, Tags: projectTags("web")}, "web", engine.OutcomeExists},
		{"shared", cloud.Observation{Exists: true, Tags: projectTags("web,api")}, "web", engine.OutcomeShared},
		{"other project", cloud.Observation{Exists: true, Tags: projectTags("api")}, "web", engine.OutcomeIgnored},
		{"untagged", cloud.Observation{Exists: true}, "web", engine.OutcomeIgnored},
		{"no requester", cloud.Observation{Exists: true, Tags: projectTags("web")}, "", engine.OutcomeExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TerminationOutcome(&tt.obs, tt.project); got != tt.want {
				t.Errorf("TerminationOutcome() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConfirmTerminate(t *testing.T) {
	s, c, pub, _ := setupService(t)
	c.Add(region, cloud.Vpc{ID: "vpc-shared", Tags: projectTags("web,api")})
	c.Add(region, cloud.Vpc{ID: "vpc-other", Tags: projectTags("api")})

	resources := []bus.ResourceInput{
		{ID: "vpc-gone", Type: "vpc", Region: region},
		{ID: "vpc-shared", Type: "vpc", Region: region},
		{ID: "vpc-other", Type: "vpc", Region: region},
	}
	res := s.ConfirmTerminate(context.Background(), "r1", "web", resources)

	if res.State != engine.ConfirmationConfirmed {
		t.Fatalf("state = %s, want confirmed", res.State)
	}
	if strings.Join(res.Confirmed, ",") != "vpc-gone,vpc-other" {
		t.Errorf("confirmed = %v", res.Confirmed)
	}
	if strings.Join(res.Shared, ",") != "vpc-shared" {
		t.Errorf("shared = %v", res.Shared)
	}
	if strings.Join(res.Ignored, ",") != "vpc-other" {
		t.Errorf("ignored = %v", res.Ignored)
	}

	event := pub.only(t)
	if event.Type != bus.EventTerminateConfirmed || event.Status != bus.StatusSuccess || event.RequestID != "r1" {
		t.Fatalf("event = %s/%s/%s", event.Type, event.Status, event.RequestID)
	}
	shared, _ := event.Data["shared_resources"].([]bus.ResourceInput)
	if len(shared) != 1 || shared[0].ID != "vpc-shared" {
		t.Errorf("shared_resources = %v", event.Data["shared_resources"])
	}
}

func TestConfirmTerminateTimesOut(t *testing.T) {
	s, c, pub, clock := setupService(t)
	c.Add(region, cloud.Vpc{ID: "vpc-1", Tags: projectTags("web")})

	res := s.ConfirmTerminate(context.Background(), "r1", "web", []bus.ResourceInput{
		{ID: "vpc-1", Type: "vpc", Region: region},
	})

	if res.State != engine.ConfirmationTimedOut {
		t.Fatalf("state = %s, want timed_out", res.State)
	}
	if len(res.Errors) != 1 || res.Errors[0] != "vpc-1: still present" {
		t.Errorf("errors = %v", res.Errors)
	}
	if elapsed := clock.Now().Sub(time.Unix(0, 0)); elapsed != 15*time.Minute {
		t.Errorf("polled for %s, want 15m", elapsed)
	}
	for _, d := range clock.Sleeps() {
		if d > 30*time.Second {
			t.Errorf("sleep %s exceeds the 30s cap", d)
		}
	}

	event := pub.only(t)
	if event.Type != bus.EventTerminateConfirmError || event.Status != bus.StatusError {
		t.Fatalf("event = %s/%s", event.Type, event.Status)
	}
	if failed, _ := event.Data["failed_ids"].([]string); len(failed) != 1 || failed[0] != "vpc-1" {
		t.Errorf("failed_ids = %v", event.Data["failed_ids"])
	}
}

func TestConfirmTerminateDegradedOnBadInput(t *testing.T) {
	s, _, _, _ := setupService(t)

	res := s.ConfirmTerminate(context.Background(), "r1", "web", []bus.ResourceInput{
		{ID: "x-1", Type: "hologram", Region: region},
		{ID: "vpc-1", Type: "vpc"},
	})

	if res.State != engine.ConfirmationDegraded {
		t.Fatalf("state = %s, want degraded", res.State)
	}
	if len(res.Failed) != 2 {
		t.Fatalf("failed = %v", res.Failed)
	}
	if res.Errors[1] != "vpc-1: missing resource metadata" {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestHandleStatusFoldsTerminateErrors(t *testing.T) {
	s, _, pub, _ := setupService(t)
	ctx := context.Background()

	s.HandleStatus(ctx, bus.NewStatus(bus.EventTerminateError, "r1", bus.StatusError, map[string]any{
		"resource_id": "sg-1",
		"error":       "DependencyViolation",
	}))
	s.HandleStatus(ctx, bus.NewStatus(bus.EventTerminateError, "other", bus.StatusError, map[string]any{
		"resource_id": "sg-9",
	}))
	s.HandleStatus(ctx, bus.NewStatus(bus.EventTerminateComplete, "r1", bus.StatusSuccess, map[string]any{
		"project": "web",
		"resources": []bus.ResourceInput{
			{ID: "vpc-1", Type: "vpc", Region: region},
			{ID: "sg-1", Type: "security_group"},
		},
	}))
	s.Wait()

	event := pub.only(t)
	if event.Type != bus.EventTerminateConfirmError {
		t.Fatalf("event type = %s", event.Type)
	}
	errs, _ := event.Data["errors"].([]string)
	want := []string{"sg-1: DependencyViolation", "sg-1: missing resource metadata"}
	if strings.Join(errs, "|") != strings.Join(want, "|") {
		t.Errorf("errors = %v, want %v", errs, want)
	}

	tasks := s.Tasks()
	if len(tasks) != 1 || tasks[0].Kind != KindTerminate || tasks[0].State != engine.ConfirmationDegraded {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].EndedAt.IsZero() {
		t.Error("finished task has no end time")
	}
	if got := s.takeTerminateErrors("other"); len(got) != 1 || got[0] != "sg-9: unknown error" {
		t.Errorf("unrelated request errors = %v", got)
	}
}

func TestHandleStatusIgnoresUnsuccessfulPower(t *testing.T) {
	s, _, pub, _ := setupService(t)

	s.HandleStatus(context.Background(), bus.NewStatus(bus.EventPower, "r1", bus.StatusPartial, map[string]any{
		"action": "start",
	}))
	s.Wait()

	if len(s.Tasks()) != 0 || len(pub.events) != 0 {
		t.Fatalf("partial power event started a confirmation")
	}
}

func TestConfirmPowerStart(t *testing.T) {
	s, c, pub, clock := setupService(t)
	c.Add(region, cloud.Instance{ID: "i-1", State: cloud.InstancePending})
	c.ScriptStates(region, engine.TypeInstance, "i-1",
		cloud.InstancePending, cloud.InstancePending, cloud.InstancePending, cloud.InstanceRunning)

	res := s.ConfirmPower(context.Background(), "r1", bus.PowerStart, "web", []bus.PowerTarget{
		{ID: "i-1", Type: "ec2_instance", Region: region},
	})

	if res.State != engine.ConfirmationConfirmed {
		t.Fatalf("state = %s, errors = %v", res.State, res.Errors)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 3 {
		t.Fatalf("slept %d times, want 3", len(sleeps))
	}
	for i := 1; i < len(sleeps); i++ {
		if sleeps[i] < sleeps[i-1] {
			t.Errorf("intervals shrank: %v", sleeps)
		}
	}

	event := pub.only(t)
	if event.Type != bus.EventPowerConfirmed || event.Data["message"] != "Power action confirmed." {
		t.Errorf("event = %s %v", event.Type, event.Data)
	}
}

func TestConfirmPowerFailures(t *testing.T) {
	tests := []struct {
		name   string
		seed   func(c *memcloud.Cloud)
		target bus.PowerTarget
		state  engine.ConfirmationState
		reason string
	}{
		{
			name:   "unsupported type",
			target: bus.PowerTarget{ID: "vpc-1", Type: "vpc", Region: region},
			state:  engine.ConfirmationDegraded,
			reason: "unsupported power resource: vpc",
		},
		{
			name:   "resource gone",
			target: bus.PowerTarget{ID: "i-1", Type: "ec2_instance", Region: region},
			state:  engine.ConfirmationDegraded,
			reason: "resource no longer exists",
		},
		{
			name: "never stops",
			seed: func(c *memcloud.Cloud) {
				c.Add(region, cloud.DBInstance{ID: "db-1", Status: cloud.DBAvailable})
			},
			target: bus.PowerTarget{ID: "db-1", Type: "rds_instance", Region: region},
			state:  engine.ConfirmationTimedOut,
			reason: "state mismatch: available, want stopped",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c, pub, _ := setupService(t)
			if tt.seed != nil {
				tt.seed(c)
			}

			res := s.ConfirmPower(context.Background(), "r1", bus.PowerStop, "web", []bus.PowerTarget{tt.target})

			if res.State != tt.state {
				t.Errorf("state = %s, want %s", res.State, tt.state)
			}
			if len(res.Errors) != 1 || res.Errors[0] != tt.target.ID+": "+tt.reason {
				t.Errorf("errors = %v", res.Errors)
			}
			if event := pub.only(t); event.Type != bus.EventPowerConfirmError {
				t.Errorf("event type = %s", event.Type)
			}
		})
	}
}

func TestConfirmDeploy(t *testing.T) {
	s, c, pub, _ := setupService(t)
	c.Add(region, cloud.Vpc{ID: "vpc-1", Tags: projectTags("web")})
	c.Add(region, cloud.Instance{ID: "i-old", State: cloud.InstanceTerminated, Tags: projectTags("web")})
	c.Add(region, cloud.Bucket{Name: "web-assets", Tags: projectTags("web")})

	t.Run("missing type", func(t *testing.T) {
		res := s.ConfirmDeploy(context.Background(), "r1", "web", "", []string{"vpc", "ec2_instance"})

		if res.State != engine.ConfirmationTimedOut {
			t.Fatalf("state = %s, want timed_out", res.State)
		}
		if strings.Join(res.Found, ",") != "vpc" || strings.Join(res.Missing, ",") != "ec2_instance" {
			t.Errorf("found = %v, missing = %v", res.Found, res.Missing)
		}
		event := pub.only(t)
		if event.Type != bus.EventDeployConfirmError || event.Data["region"] != region {
			t.Errorf("event = %s %v", event.Type, event.Data)
		}
	})

	t.Run("all found", func(t *testing.T) {
		pub.events = nil
		res := s.ConfirmDeploy(context.Background(), "r2", "web", region, []string{"s3_bucket", "vpc"})

		if res.State != engine.ConfirmationConfirmed {
			t.Fatalf("state = %s, missing = %v", res.State, res.Missing)
		}
		if strings.Join(res.Found, ",") != "s3_bucket,vpc" {
			t.Errorf("found = %v", res.Found)
		}
		if event := pub.only(t); event.Type != bus.EventDeployConfirmed {
			t.Errorf("event type = %s", event.Type)
		}
	})

	t.Run("no project", func(t *testing.T) {
		pub.events = nil
		res := s.ConfirmDeploy(context.Background(), "r3", "", region, []string{"vpc"})

		if res.State != engine.ConfirmationDegraded || len(res.Missing) != 1 {
			t.Errorf("state = %s, missing = %v", res.State, res.Missing)
		}
	})
}

func TestStopCancelsRunningConfirmations(t *testing.T) {
	s, c, pub, _ := setupService(t)
	c.Add(region, cloud.Vpc{ID: "vpc-1", Tags: projectTags("web")})

	s.Stop()
	s.HandleStatus(context.Background(), bus.NewStatus(bus.EventTerminateComplete, "r1", bus.StatusSuccess, map[string]any{
		"project":   "web",
		"resources": []bus.ResourceInput{{ID: "vpc-1", Type: "vpc", Region: region}},
	}))
	s.Wait()

	event := pub.only(t)
	errs, _ := event.Data["errors"].([]string)
	if len(errs) != 1 || errs[0] != "vpc-1: confirmation cancelled" {
		t.Errorf("errors = %v", errs)
	}
}

func TestConfirmTerminateSharesOneDeadline(t *testing.T) {
	s, c, pub, clock := setupService(t)
	for _, id := range []string{"vpc-a", "vpc-b"} {
		c.Add(region, cloud.Vpc{ID: id, Tags: projectTags("web")})
	}

	res := s.ConfirmTerminate(context.Background(), "r1", "web", []bus.ResourceInput{
		{ID: "vpc-a", Type: "vpc", Region: region},
		{ID: "vpc-b", Type: "vpc", Region: region},
		{ID: "vpc-gone", Type: "vpc", Region: region},
	})

	if elapsed := clock.Now().Sub(time.Unix(0, 0)); elapsed > 15*time.Minute {
		t.Errorf("confirmation ran %s, longer than the 15m policy timeout", elapsed)
	}
	if res.State != engine.ConfirmationTimedOut {
		t.Errorf("state = %s, want timed_out", res.State)
	}
	if strings.Join(res.Failed, ",") != "vpc-a,vpc-b" {
		t.Errorf("failed = %v, want vpc-a and vpc-b", res.Failed)
	}
	// Checked once after the deadline and found gone.
	if strings.Join(res.Confirmed, ",") != "vpc-gone" {
		t.Errorf("confirmed = %v, want vpc-gone", res.Confirmed)
	}
	if event := pub.only(t); event.Type != bus.EventTerminateConfirmError {
		t.Errorf("event = %s", event.Type)
	}
}

func TestConfirmPowerSharesOneDeadline(t *testing.T) {
	s, c, _, clock := setupService(t)
	for _, id := range []string{"i-1", "i-2", "i-3"} {
		c.Add(region, cloud.Instance{ID: id, State: cloud.InstancePending})
	}

	res := s.ConfirmPower(context.Background(), "r1", bus.PowerStart, "web", []bus.PowerTarget{
		{ID: "i-1", Type: "ec2_instance", Region: region},
		{ID: "i-2", Type: "ec2_instance", Region: region},
		{ID: "i-3", Type: "ec2_instance", Region: region},
	})

	if elapsed := clock.Now().Sub(time.Unix(0, 0)); elapsed > 10*time.Minute {
		t.Errorf("confirmation ran %s, longer than the 10m policy timeout", elapsed)
	}
	if res.State != engine.ConfirmationTimedOut || len(res.Failed) != 3 {
		t.Errorf("state = %s, failed = %v", res.State, res.Failed)
	}
}
