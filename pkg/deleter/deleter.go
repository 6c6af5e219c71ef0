// Package deleter removes single cloud resources.
//
// Deletion is idempotent: any provider answer meaning the resource is
// already gone counts as success. Each resource type has its own branch in
// a capability table; branches that have to unhook a resource first (rules,
// attachments, associations, policies) do so before the final delete call.
// Failures come back as classified engine errors so callers can tell a
// dependency ordering problem from a timeout or an outright rejection.
package deleter

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/cloud"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/retry"
	"github.com/pockitect/pockitect/pkg/telemetry"
)

// Deletion outcomes recorded in the deletions_total metric besides the
// failure reasons.
const (
	OutcomeDeleted     = "deleted"
	OutcomeAlreadyGone = "already_gone"
)

// Waits bounds the polls and retries the branches run. Zero fields use
// the defaults below.
type Waits struct {
	Instance     retry.Policy `yaml:"instance"`
	Interface    retry.Policy `yaml:"interface"`
	Volume       retry.Policy `yaml:"volume"`
	NatGateway   retry.Policy `yaml:"nat_gateway"`
	Database     retry.Policy `yaml:"database"`
	LoadBalancer retry.Policy `yaml:"load_balancer"`

	// DetachSettle is the pause after a forced interface detach.
	DetachSettle time.Duration `yaml:"detach_settle"`
}

// DefaultWaits mirrors the provider's own waiter settings.
func DefaultWaits() Waits {
	return Waits{
		Instance:     retry.Constant(60, 5*time.Second),
		Interface:    retry.Constant(10, 3*time.Second),
		Volume:       retry.Constant(60, 2*time.Second),
		NatGateway:   retry.Constant(40, 15*time.Second),
		Database:     retry.Constant(60, 30*time.Second),
		LoadBalancer: retry.Constant(40, 15*time.Second),
		DetachSettle: 2 * time.Second,
	}
}

func (w Waits) withDefaults() Waits {
	def := DefaultWaits()
	pick := func(p, fallback retry.Policy) retry.Policy {
		if p.MaxAttempts == 0 && p.Timeout == 0 {
			return fallback
		}
		return p
	}
	w.Instance = pick(w.Instance, def.Instance)
	w.Interface = pick(w.Interface, def.Interface)
	w.Volume = pick(w.Volume, def.Volume)
	w.NatGateway = pick(w.NatGateway, def.NatGateway)
	w.Database = pick(w.Database, def.Database)
	w.LoadBalancer = pick(w.LoadBalancer, def.LoadBalancer)
	if w.DetachSettle == 0 {
		w.DetachSettle = def.DetachSettle
	}
	return w
}

// Options configures a Deleter.
type Options struct {
	Waits     Waits
	Clock     retry.Clock
	Telemetry *telemetry.Telemetry
	Logger    zerolog.Logger
}

// Deleter implements engine.ResourceDeleter over a cloud provider.
type Deleter struct {
	provider cloud.Provider
	waits    Waits
	clock    retry.Clock
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
}

var _ engine.ResourceDeleter = (*Deleter)(nil)

type deleteFunc func(d *Deleter, ctx context.Context, ref engine.ResourceRef) error

var branches = map[engine.ResourceType]deleteFunc{
	engine.TypeInstance:            (*Deleter).deleteInstance,
	engine.TypeVolume:              (*Deleter).deleteVolume,
	engine.TypeKeyPair:             (*Deleter).deleteKeyPair,
	engine.TypeVPC:                 (*Deleter).deleteVpc,
	engine.TypeSubnet:              (*Deleter).deleteSubnet,
	engine.TypeSecurityGroup:       (*Deleter).deleteSecurityGroup,
	engine.TypeNetworkInterface:    (*Deleter).deleteNetworkInterface,
	engine.TypeInternetGateway:     (*Deleter).deleteInternetGateway,
	engine.TypeNatGateway:          (*Deleter).deleteNatGateway,
	engine.TypeRouteTable:          (*Deleter).deleteRouteTable,
	engine.TypeNetworkACL:          (*Deleter).deleteNetworkACL,
	engine.TypeVPCEndpoint:         (*Deleter).deleteVpcEndpoint,
	engine.TypePeeringConnection:   (*Deleter).deletePeeringConnection,
	engine.TypeElasticIP:           (*Deleter).deleteElasticIP,
	engine.TypeLoadBalancer:        (*Deleter).deleteLoadBalancer,
	engine.TypeClassicLoadBalancer: (*Deleter).deleteClassicLoadBalancer,
	engine.TypeAutoScalingGroup:    (*Deleter).deleteAutoScalingGroup,
	engine.TypeDBInstance:          (*Deleter).deleteDBInstance,
	engine.TypeBucket:              (*Deleter).deleteBucket,
	engine.TypeRole:                (*Deleter).deleteRole,
}

// Supports reports whether t has a deletion branch.
func Supports(t engine.ResourceType) bool {
	_, ok := branches[t]
	return ok
}

// New creates a deleter.
func New(provider cloud.Provider, opts Options) *Deleter {
	if opts.Clock == nil {
		opts.Clock = retry.RealClock{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}
	return &Deleter{
		provider: provider,
		waits:    opts.Waits.withDefaults(),
		clock:    opts.Clock,
		tel:      opts.Telemetry,
		logger:   opts.Logger.With().Str("component", "resource_deleter").Logger(),
	}
}

// Delete removes ref. A resource that is already gone is a success.
func (d *Deleter) Delete(ctx context.Context, ref engine.ResourceRef) error {
	fn, ok := branches[ref.Type]
	if !ok {
		err := engine.NewUnsupportedError(ref)
		d.logFor(ctx).Warn().Str("resource", ref.String()).Msg("unsupported resource type for deletion")
		d.record(ref, err)
		return err
	}

	ctx, span := d.tel.Tracer.StartDeletionSpan(ctx, ref.ID, string(ref.Type), ref.Region)
	defer span.End()

	err := fn(d, ctx, ref)
	switch {
	case err == nil:
		d.logger.Info().Str("resource", ref.String()).Msg("resource deleted")
		d.tel.Metrics.RecordDeletion(string(ref.Type), OutcomeDeleted)
		telemetry.RecordSuccess(span)
		return nil
	case cloud.IsNotFound(err):
		d.logger.Info().Str("resource", ref.String()).Str("code", cloud.Code(err)).Msg("resource already deleted")
		d.tel.Metrics.RecordDeletion(string(ref.Type), OutcomeAlreadyGone)
		telemetry.RecordSuccess(span)
		return nil
	}

	err = cloud.Classify(err, ref, "delete")
	telemetry.RecordError(span, err)
	d.logFor(ctx).Error().Err(err).Str("resource", ref.String()).Str("reason", string(engine.Reason(err))).
		Msg("failed to delete resource")
	d.record(ref, err)
	return err
}

// logFor prefers the request-scoped logger of the running command, so
// failures carry its request and trace ids.
func (d *Deleter) logFor(ctx context.Context) *zerolog.Logger {
	if l, ok := telemetry.FromContext(ctx); ok {
		zl := l.NewComponentLogger("resource_deleter").Zerolog()
		return &zl
	}
	return &d.logger
}

func (d *Deleter) record(ref engine.ResourceRef, err error) {
	d.tel.Metrics.RecordDeletion(string(ref.Type), string(engine.Reason(err)))
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		d.tel.Metrics.RecordError(string(ee.Class), ee.Code)
	}
}

// waitGone polls check until it reports done or the provider reports the
// resource missing.
func (d *Deleter) waitGone(ctx context.Context, p retry.Policy, check func(ctx context.Context) (bool, error)) error {
	return retry.Poll(ctx, d.clock, p, func(ctx context.Context) (bool, error) {
		done, err := check(ctx)
		if cloud.IsNotFound(err) {
			return true, nil
		}
		return done, err
	})
}

// waitBestEffort runs waitGone and only logs a failure. Used where the
// provider finishes the removal on its own once the delete was accepted.
func (d *Deleter) waitBestEffort(ctx context.Context, ref engine.ResourceRef, p retry.Policy, check func(ctx context.Context) (bool, error)) {
	if err := d.waitGone(ctx, p, check); err != nil {
		d.logger.Warn().Err(err).Str("resource", ref.String()).Msg("gave up waiting for deletion to finish")
	}
}

func timeout(ref engine.ResourceRef, op, msg string, err error) *engine.EngineError {
	return engine.NewTimeoutError(msg, err).WithResource(ref.String()).WithOperation(op)
}
