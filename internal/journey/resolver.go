package journey

import (
	"context"
	"fmt"

	"github.com/chamahq/journey/internal/observability"
	"github.com/chamahq/journey/model"
)

// Command is an inbound user-facing verb, resolved against the active
// definition's declared commands.
type Command struct {
	JourneyCode string         `json:"journey_code"`
	Command     string         `json:"command"`
	MemberID    string         `json:"member_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Outcome discriminates what a resolved command produced.
type Outcome string

const (
	OutcomeInstanceCreated   Outcome = "INSTANCE_CREATED"
	OutcomeTransitionApplied Outcome = "TRANSITION_APPLIED"
	OutcomeApprovalPending   Outcome = "APPROVAL_PENDING"
)

// CommandResult is the outcome of resolving and executing a command.
type CommandResult struct {
	Outcome  Outcome                   `json:"outcome"`
	Instance model.JourneyInstance     `json:"instance"`
	Entry    *model.TransitionLogEntry `json:"entry,omitempty"`
	Approval *model.ApprovalRequest    `json:"approval,omitempty"`
	// Events are declared event names the caller should dispatch.
	Events []string `json:"events,omitempty"`
}

// ApprovalGate is the resolver's view of the approval subsystem. Commands
// whose policy requires sign-off are parked there instead of firing.
type ApprovalGate interface {
	// RequiresApproval reports whether the policy code gates execution
	// behind a blocking approval.
	RequiresApproval(policyCode string) bool

	// Open creates a pending approval request for the instance and trigger.
	Open(ctx context.Context, rctx *model.RequestContext, instanceID, journeyTrigger, policyCode string, metadata map[string]any) (model.ApprovalRequest, error)
}

// Resolver maps inbound commands to definition-declared actions and
// executes them.
type Resolver struct {
	engine *Engine
	gate   ApprovalGate
}

// NewResolver creates a command Resolver. gate may be nil when no approval
// subsystem is configured; policy-gated commands then execute directly.
func NewResolver(engine *Engine, gate ApprovalGate) *Resolver {
	return &Resolver{engine: engine, gate: gate}
}

// Resolve looks up the command in the active definition and dispatches on
// its declared action.
func (r *Resolver) Resolve(ctx context.Context, rctx *model.RequestContext, cmd Command) (res CommandResult, err error) {
	if cmd.JourneyCode == "" || cmd.Command == "" || cmd.MemberID == "" {
		return CommandResult{}, model.NewBadRequestError("journey_code, command and member_id are required")
	}

	ctx, span := observability.StartSpan(ctx, "journey.resolve_command",
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrJourneyCode.String(cmd.JourneyCode),
		observability.AttrCommand.String(cmd.Command),
		observability.AttrMemberID.String(cmd.MemberID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// Commands always resolve against the active definition. Instances keep
	// running on their pinned version; it is only the command vocabulary
	// that follows the live one.
	def, err := r.engine.registry.Active(ctx, rctx.TenantID, cmd.JourneyCode)
	if err != nil {
		return CommandResult{}, err
	}

	cmdDef, ok := def.FindCommand(cmd.Command)
	if !ok {
		return CommandResult{}, model.NewUnknownCommandError(
			fmt.Sprintf("journey %q declares no command %q", cmd.JourneyCode, cmd.Command),
		)
	}

	switch cmdDef.Action {
	case model.ActionCreateInstance:
		return r.createInstance(ctx, rctx, cmd)

	case model.ActionFireTrigger:
		return r.fireTrigger(ctx, rctx, cmd, cmdDef)

	case model.ActionResolveApproval:
		// Resolution carries a decision and resolver identity that generic
		// command dispatch does not; it must go through the approval path.
		return CommandResult{}, model.NewUnsupportedActionError(
			fmt.Sprintf("command %q resolves approvals and cannot be dispatched here", cmd.Command),
		)

	default:
		// The validator rejects unknown actions at publish time; reaching
		// this means the stored definition is corrupt.
		return CommandResult{}, &model.ErrorEnvelope{
			Code:    model.ErrInternalError,
			Message: fmt.Sprintf("journey %q command %q declares unknown action %q", cmd.JourneyCode, cmd.Command, cmdDef.Action),
		}
	}
}

func (r *Resolver) createInstance(ctx context.Context, rctx *model.RequestContext, cmd Command) (CommandResult, error) {
	// Pre-flight check for a friendlier error; the store's uniqueness
	// constraint still backstops the race.
	_, err := r.engine.FindByMember(ctx, rctx, cmd.MemberID, cmd.JourneyCode)
	if err == nil {
		return CommandResult{}, model.NewInstanceExistsError(
			fmt.Sprintf("member %s already has a %s journey", cmd.MemberID, cmd.JourneyCode),
		)
	}
	if model.CodeOf(err) != model.ErrInstanceNotFound {
		return CommandResult{}, err
	}

	created, err := r.engine.CreateInstance(ctx, rctx, cmd.JourneyCode, cmd.MemberID, cmd.Metadata)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{
		Outcome:  OutcomeInstanceCreated,
		Instance: created.Instance,
		Events:   created.Events,
	}, nil
}

func (r *Resolver) fireTrigger(ctx context.Context, rctx *model.RequestContext, cmd Command, cmdDef model.CommandDefinition) (CommandResult, error) {
	if cmdDef.Trigger == "" {
		return CommandResult{}, model.NewMissingTriggerError(
			fmt.Sprintf("command %q fires a trigger but declares none", cmd.Command),
		)
	}

	inst, err := r.engine.FindByMember(ctx, rctx, cmd.MemberID, cmd.JourneyCode)
	if err != nil {
		return CommandResult{}, err
	}

	if cmdDef.Policy != "" && r.gate != nil && r.gate.RequiresApproval(cmdDef.Policy) {
		approval, err := r.gate.Open(ctx, rctx, inst.ID, cmdDef.Trigger, cmdDef.Policy, cmd.Metadata)
		if err != nil {
			return CommandResult{}, err
		}
		return CommandResult{
			Outcome:  OutcomeApprovalPending,
			Instance: inst,
			Approval: &approval,
		}, nil
	}

	metadata := cmd.Metadata
	if cmdDef.Policy != "" {
		// A non-blocking policy skips the gate, but the log entry still
		// records which policy scoped the command.
		metadata = make(map[string]any, len(cmd.Metadata)+1)
		for k, v := range cmd.Metadata {
			metadata[k] = v
		}
		metadata["policy_code"] = cmdDef.Policy
	}

	applied, err := r.engine.Fire(ctx, rctx, inst.ID, cmdDef.Trigger, metadata)
	if err != nil {
		return CommandResult{}, err
	}
	return CommandResult{
		Outcome:  OutcomeTransitionApplied,
		Instance: applied.Instance,
		Entry:    &applied.Entry,
		Events:   applied.Events,
	}, nil
}
