package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pockitect/pockitect/pkg/engine"
)

// Command types accepted on the command channel.
const (
	CommandScanAllRegions = "scan_all_regions"
	CommandDeploy         = "deploy"
	CommandTerminate      = "terminate"
	CommandPower          = "power"
	CommandProjectUpdated = "project_updated"
)

// Status values carried by every status event.
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusError      = "error"
	StatusSkipped    = "skipped"

	// StatusPartial is the degraded power summary: some resources failed.
	StatusPartial = "partial"
)

// Status event types.
const (
	EventScanChunk = "scan_chunk"

	EventDeploy             = "deploy"
	EventDeployConfirmed    = "deploy_confirmed"
	EventDeployConfirmError = "deploy_confirm_error"

	EventTerminateProgress     = "terminate_progress"
	EventTerminateSkipped      = "terminate_skipped"
	EventTerminateError        = "terminate_error"
	EventTerminateComplete     = "terminate_complete"
	EventTerminateConfirmed    = "terminate_confirmed"
	EventTerminateConfirmError = "terminate_confirm_error"

	EventPower             = "power"
	EventPowerConfirmed    = "power_confirmed"
	EventPowerConfirmError = "power_confirm_error"

	EventProjectRefreshComplete = "project_refresh_complete"

	// EventError reports a command that failed at the dispatch boundary.
	EventError = "error"
)

// ErrUnknownCommand is returned when decoding a command type nobody handles.
var ErrUnknownCommand = errors.New("unknown command type")

var validate = validator.New()

// Command is an inbound envelope. Data stays raw until the command type is
// known; Payload decodes it.
type Command struct {
	Type      string          `json:"type" validate:"required"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewCommand builds a command with a fresh request id.
func NewCommand(commandType string, data any) (Command, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Command{}, fmt.Errorf("encode %s data: %w", commandType, err)
	}
	return Command{Type: commandType, RequestID: uuid.NewString(), Data: raw}, nil
}

// Validate checks the envelope and, for known types, its payload.
func (c Command) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid command envelope: %w", err)
	}
	_, err := c.Payload()
	if errors.Is(err, ErrUnknownCommand) {
		return nil
	}
	return err
}

// Payload is the decoded data of a known command.
type Payload interface {
	CommandType() string
}

// Payload decodes and validates the command data.
func (c Command) Payload() (Payload, error) {
	var p Payload
	switch c.Type {
	case CommandScanAllRegions:
		p = &ScanRequest{}
	case CommandDeploy:
		p = &DeployRequest{}
	case CommandTerminate:
		p = &TerminateRequest{}
	case CommandPower:
		p = &PowerRequest{}
	case CommandProjectUpdated:
		p = &ProjectUpdatedRequest{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, c.Type)
	}

	if len(c.Data) > 0 && string(c.Data) != "null" {
		if err := json.Unmarshal(c.Data, p); err != nil {
			return nil, fmt.Errorf("decode %s data: %w", c.Type, err)
		}
	}
	if err := validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid %s data: %w", c.Type, err)
	}
	return p, nil
}

// DecodeCommand parses and validates a wire envelope.
func DecodeCommand(raw []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(raw, &c); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

// ScanRequest asks for a scan of every region, or of the listed ones.
type ScanRequest struct {
	Regions         []string `json:"regions,omitempty" validate:"omitempty,dive,required"`
	PriorityRegions []string `json:"priority_regions,omitempty" validate:"omitempty,dive,required"`
}

func (*ScanRequest) CommandType() string { return CommandScanAllRegions }

// DeployRequest creates a blueprint's resources. A missing template path is
// reported by the deploy flow rather than rejected here.
type DeployRequest struct {
	TemplatePath          string   `json:"template_path"`
	Project               string   `json:"project"`
	Region                string   `json:"region"`
	ExpectedResourceTypes []string `json:"expected_resource_types,omitempty"`
}

func (*DeployRequest) CommandType() string { return CommandDeploy }

// ResourceInput is one resource named by a terminate request.
type ResourceInput struct {
	ID      string            `json:"id" validate:"required"`
	Type    string            `json:"type" validate:"required"`
	Region  string            `json:"region" validate:"required"`
	Tags    map[string]string `json:"tags,omitempty"`
	Details map[string]any    `json:"details,omitempty"`
}

// Resource converts the input to the engine model.
func (r ResourceInput) Resource() engine.Resource {
	return engine.Resource{
		ResourceRef: engine.ResourceRef{ID: r.ID, Type: engine.ResourceType(r.Type), Region: r.Region},
		Tags:        r.Tags,
		Details:     r.Details,
	}
}

// TerminateRequest tears down resources on behalf of a project.
type TerminateRequest struct {
	Resources []ResourceInput `json:"resources" validate:"dive"`
	Project   string          `json:"project,omitempty"`
}

func (*TerminateRequest) CommandType() string { return CommandTerminate }

// PowerTarget is one resource named by a power request.
type PowerTarget struct {
	ID     string `json:"id" validate:"required"`
	Type   string `json:"type" validate:"required"`
	Region string `json:"region" validate:"required"`
}

// Ref returns the target as a resource reference.
func (p PowerTarget) Ref() engine.ResourceRef {
	return engine.ResourceRef{ID: p.ID, Type: engine.ResourceType(p.Type), Region: p.Region}
}

// Power actions.
const (
	PowerStart = "start"
	PowerStop  = "stop"
)

// PowerRequest starts or stops resources. Without an explicit list the
// project's active powerable resources are used.
type PowerRequest struct {
	Action    string        `json:"action"`
	Project   string        `json:"project,omitempty"`
	Resources []PowerTarget `json:"resources,omitempty" validate:"omitempty,dive"`
}

func (*PowerRequest) CommandType() string { return CommandPower }

// ProjectUpdatedRequest refreshes the live status of a saved project.
type ProjectUpdatedRequest struct {
	Project string `json:"project" validate:"required"`
}

func (*ProjectUpdatedRequest) CommandType() string { return CommandProjectUpdated }

// Status is an outbound event. RequestID ties it to the command that caused
// it.
type Status struct {
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Type      string         `json:"type" validate:"required"`
	RequestID string         `json:"request_id,omitempty"`
	Status    string         `json:"status" validate:"required,oneof=in_progress success error skipped partial"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewStatus builds a status event.
func NewStatus(eventType, requestID, status string, data map[string]any) Status {
	if data == nil {
		data = map[string]any{}
	}
	return Status{Type: eventType, RequestID: requestID, Status: status, Data: data}
}

// Validate checks the event.
func (s Status) Validate() error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid status event: %w", err)
	}
	return nil
}

// stamp fills in the id and timestamp if unset.
func (s Status) stamp() Status {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	return s
}

// DecodeStatus parses and validates a wire status event.
func DecodeStatus(raw []byte) (Status, error) {
	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return Status{}, fmt.Errorf("decode status: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Status{}, err
	}
	return s, nil
}

// DecodeData re-decodes the event data into out.
func (s Status) DecodeData(out any) error {
	raw, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
