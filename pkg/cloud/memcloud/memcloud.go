// Package memcloud is an in-memory cloud.Provider. It models the provider
// refusals the core has to cope with (dependency violations, default
// resources that cannot be removed, resources that are already gone) and
// lets tests script state transitions and inject faults.
package memcloud

import (
	"fmt"
	"sync"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
)

type key struct {
	region string
	kind   engine.ResourceType
	id     string
}

type fault struct {
	err       error
	remaining int // 0 means forever
}

// Cloud is an in-memory provider. The zero value is not usable; call New.
type Cloud struct {
	mu      sync.Mutex
	objects map[key]interface{}
	order   []key
	states  map[key][]string
	faults  map[string]*fault
	calls   []string
	seq     int

	bucketObjects map[string]int
	profiles      map[string][]string
	attached      map[string][]string
	inline        map[string][]string
}

var _ cloud.Provider = (*Cloud)(nil)

// New creates an empty cloud.
func New() *Cloud {
	return &Cloud{
		objects:       make(map[key]interface{}),
		states:        make(map[key][]string),
		faults:        make(map[string]*fault),
		bucketObjects: make(map[string]int),
		profiles:      make(map[string][]string),
		attached:      make(map[string][]string),
		inline:        make(map[string][]string),
	}
}

// Name returns "memory".
func (c *Cloud) Name() string { return "memory" }

var notFoundCodes = map[engine.ResourceType]string{
	engine.TypeInstance:            "InvalidInstanceID.NotFound",
	engine.TypeVPC:                 "InvalidVpcID.NotFound",
	engine.TypeSubnet:              "InvalidSubnetID.NotFound",
	engine.TypeSecurityGroup:       "InvalidGroup.NotFound",
	engine.TypeNetworkInterface:    "InvalidNetworkInterfaceID.NotFound",
	engine.TypeInternetGateway:     "InvalidInternetGatewayID.NotFound",
	engine.TypeNatGateway:          "NatGatewayNotFound",
	engine.TypeRouteTable:          "InvalidRouteTableID.NotFound",
	engine.TypeNetworkACL:          "InvalidNetworkAclID.NotFound",
	engine.TypeVPCEndpoint:         "InvalidVpcEndpointId.NotFound",
	engine.TypePeeringConnection:   "InvalidVpcPeeringConnectionID.NotFound",
	engine.TypeElasticIP:           "InvalidAllocationID.NotFound",
	engine.TypeVolume:              "InvalidVolume.NotFound",
	engine.TypeKeyPair:             "InvalidKeyPair.NotFound",
	engine.TypeLoadBalancer:        "LoadBalancerNotFound",
	engine.TypeClassicLoadBalancer: "LoadBalancerNotFound",
	engine.TypeAutoScalingGroup:    "AutoScalingGroupNotFound",
	engine.TypeDBInstance:          "DBInstanceNotFound",
	engine.TypeBucket:              "NoSuchBucket",
	engine.TypeRole:                "NoSuchEntity",
}

func notFound(t engine.ResourceType, id string) error {
	return cloud.NewAPIError(notFoundCodes[t], "The %s '%s' does not exist", t, id)
}

func dependencyViolation(t engine.ResourceType, id, what string) error {
	return cloud.NewAPIError("DependencyViolation", "%s %s has dependent object: %s", t, id, what)
}

// enter records a call and returns any injected fault. Callers hold c.mu.
func (c *Cloud) enter(op, id string) error {
	c.calls = append(c.calls, op+" "+id)
	for _, k := range []string{op + " " + id, op + " *"} {
		f, ok := c.faults[k]
		if !ok {
			continue
		}
		if f.remaining > 0 {
			f.remaining--
			if f.remaining == 0 {
				delete(c.faults, k)
			}
		}
		return f.err
	}
	return nil
}

func (c *Cloud) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("%s-%08x", prefix, c.seq)
}

func (c *Cloud) put(region string, t engine.ResourceType, id string, obj interface{}) {
	k := key{region: region, kind: t, id: id}
	if _, exists := c.objects[k]; !exists {
		c.order = append(c.order, k)
	}
	c.objects[k] = obj
}

func (c *Cloud) remove(region string, t engine.ResourceType, id string) {
	k := key{region: region, kind: t, id: id}
	delete(c.objects, k)
	delete(c.states, k)
	for i, o := range c.order {
		if o == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func lookup[T any](c *Cloud, region string, t engine.ResourceType, id string) (*T, bool) {
	obj, ok := c.objects[key{region: region, kind: t, id: id}]
	if !ok {
		return nil, false
	}
	v, ok := obj.(*T)
	return v, ok
}

func all[T any](c *Cloud, region string, t engine.ResourceType) []*T {
	out := make([]*T, 0)
	for _, k := range c.order {
		if k.region != region || k.kind != t {
			continue
		}
		if v, ok := c.objects[k].(*T); ok {
			out = append(out, v)
		}
	}
	return out
}

// advance applies the next scripted state for k, if any.
func (c *Cloud) advance(region string, t engine.ResourceType, id string, set func(string)) {
	k := key{region: region, kind: t, id: id}
	queue := c.states[k]
	if len(queue) == 0 {
		return
	}
	set(queue[0])
	c.states[k] = queue[1:]
}

// ScriptStates queues states that successive single-resource describes of
// the resource will report. The last state sticks. Applies to instances,
// volumes, NAT gateways and database instances.
func (c *Cloud) ScriptStates(region string, t engine.ResourceType, id string, states ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{region: region, kind: t, id: id}
	c.states[k] = append(c.states[k], states...)
}

// FailOn makes op on id fail with err every time. id "*" matches any id.
func (c *Cloud) FailOn(op, id string, err error) {
	c.FailTimes(op, id, err, 0)
}

// FailTimes makes op on id fail n times, then succeed. n == 0 means forever.
func (c *Cloud) FailTimes(op, id string, err error, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[op+" "+id] = &fault{err: err, remaining: n}
}

// ClearFaults removes every injected fault.
func (c *Cloud) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults = make(map[string]*fault)
}

// Calls returns the call log as "op id" entries.
func (c *Cloud) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns how many times op was called on id.
func (c *Cloud) CallCount(op, id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call == op+" "+id {
			n++
		}
	}
	return n
}

// Exists reports whether the resource is stored, regardless of its state.
func (c *Cloud) Exists(region string, t engine.ResourceType, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[key{region: region, kind: t, id: id}]
	return ok
}

// Add stores a model object. Buckets and roles ignore region.
func (c *Cloud) Add(region string, obj interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch o := obj.(type) {
	case cloud.Instance:
		c.put(region, engine.TypeInstance, o.ID, &o)
	case cloud.Vpc:
		c.put(region, engine.TypeVPC, o.ID, &o)
	case cloud.Subnet:
		c.put(region, engine.TypeSubnet, o.ID, &o)
	case cloud.SecurityGroup:
		c.put(region, engine.TypeSecurityGroup, o.ID, &o)
	case cloud.NetworkInterface:
		c.put(region, engine.TypeNetworkInterface, o.ID, &o)
	case cloud.InternetGateway:
		c.put(region, engine.TypeInternetGateway, o.ID, &o)
	case cloud.NatGateway:
		c.put(region, engine.TypeNatGateway, o.ID, &o)
	case cloud.RouteTable:
		c.put(region, engine.TypeRouteTable, o.ID, &o)
	case cloud.NetworkACL:
		c.put(region, engine.TypeNetworkACL, o.ID, &o)
	case cloud.VpcEndpoint:
		c.put(region, engine.TypeVPCEndpoint, o.ID, &o)
	case cloud.PeeringConnection:
		c.put(region, engine.TypePeeringConnection, o.ID, &o)
	case cloud.Address:
		c.put(region, engine.TypeElasticIP, o.AllocationID, &o)
	case cloud.Volume:
		c.put(region, engine.TypeVolume, o.ID, &o)
	case cloud.KeyPair:
		c.put(region, engine.TypeKeyPair, o.Name, &o)
	case cloud.LoadBalancer:
		if o.Classic {
			c.put(region, engine.TypeClassicLoadBalancer, o.ID, &o)
		} else {
			c.put(region, engine.TypeLoadBalancer, o.ID, &o)
		}
	case cloud.AutoScalingGroup:
		c.put(region, engine.TypeAutoScalingGroup, o.Name, &o)
	case cloud.DBInstance:
		c.put(region, engine.TypeDBInstance, o.ID, &o)
	case cloud.Bucket:
		c.put(engine.GlobalRegion, engine.TypeBucket, o.Name, &o)
	case cloud.Role:
		c.put(engine.GlobalRegion, engine.TypeRole, o.Name, &o)
	default:
		panic(fmt.Sprintf("memcloud: unsupported object %T", obj))
	}
}

// PutObjects sets the object count of a bucket.
func (c *Cloud) PutObjects(bucket string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bucketObjects[bucket] = n
}

// AttachRolePolicies records managed and inline policies and the instance
// profiles that contain the role.
func (c *Cloud) AttachRolePolicies(role string, managed, inline, profiles []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached[role] = append(c.attached[role], managed...)
	c.inline[role] = append(c.inline[role], inline...)
	for _, p := range profiles {
		c.profiles[p] = append(c.profiles[p], role)
	}
}

// HasInstanceProfile reports whether the profile still exists.
func (c *Cloud) HasInstanceProfile(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.profiles[name]
	return ok
}

func matchIDs(ids []string, id string) bool {
	if len(ids) == 0 {
		return true
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func without(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}

