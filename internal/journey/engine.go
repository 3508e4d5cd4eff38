package journey

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/internal/observability"
	"github.com/chamahq/journey/model"
)

// maxTransitionRetries bounds the optimistic-lock retry loop. Each retry
// reloads the instance and re-validates the transition against its current
// state, so a trigger that became illegal after a concurrent move fails
// with ILLEGAL_TRANSITION instead of clobbering the other writer.
const maxTransitionRetries = 3

// Engine drives journey instances through their state machines. All state
// changes go through here; the store guarantees state and log commit
// together, the engine guarantees only legal transitions are attempted.
type Engine struct {
	registry *definition.Registry
	store    Store

	onTransition func(journeyCode, origin, status string)
	onConflict   func(journeyCode string)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTransitionObserver registers callbacks invoked when a transition
// commits or is rejected, and on each optimistic-lock conflict. Used to
// feed metrics.
func WithTransitionObserver(onTransition func(journeyCode, origin, status string), onConflict func(journeyCode string)) EngineOption {
	return func(e *Engine) {
		e.onTransition = onTransition
		e.onConflict = onConflict
	}
}

// NewEngine creates a new journey engine.
func NewEngine(registry *definition.Registry, store Store, opts ...EngineOption) *Engine {
	e := &Engine{registry: registry, store: store}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreationResult is the outcome of creating a journey instance.
type CreationResult struct {
	Instance model.JourneyInstance `json:"instance"`
	// Events are the names of the definition's on-create events, for the
	// caller to dispatch.
	Events []string `json:"events,omitempty"`
}

// TransitionResult is the outcome of a committed transition.
type TransitionResult struct {
	Instance model.JourneyInstance    `json:"instance"`
	Entry    model.TransitionLogEntry `json:"entry"`
	// Events are the names of the definition's on-transition events bound
	// to the fired trigger.
	Events []string `json:"events,omitempty"`
}

// CreateInstance creates a new journey instance for a member in the active
// definition's initial state. The instance pins the definition version it
// was created under; later activations never change its rules.
func (e *Engine) CreateInstance(
	ctx context.Context,
	rctx *model.RequestContext,
	journeyCode string,
	memberID string,
	metadata map[string]any,
) (res CreationResult, err error) {
	ctx, span := observability.StartSpan(ctx, "journey.create_instance",
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrJourneyCode.String(journeyCode),
		observability.AttrMemberID.String(memberID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	// 1. Resolve the active definition for the tenant.
	def, err := e.registry.Active(ctx, rctx.TenantID, journeyCode)
	if err != nil {
		return CreationResult{}, err
	}

	// 2. Build the instance, pinned to the definition version.
	now := time.Now().UTC()
	inst := model.JourneyInstance{
		ID:             uuid.New().String(),
		TenantID:       rctx.TenantID,
		MemberID:       memberID,
		JourneyCode:    def.Code,
		JourneyVersion: def.Version,
		CurrentState:   def.InitialState,
		Metadata:       metadata,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// 3. The log starts with a synthetic creation entry so a fold over the
	// log alone reconstructs the full state history.
	creation := model.TransitionLogEntry{
		ID:                uuid.New().String(),
		TenantID:          rctx.TenantID,
		JourneyInstanceID: inst.ID,
		MemberID:          memberID,
		ToState:           def.InitialState,
		Trigger:           model.CreationTrigger,
		Origin:            model.OriginDirect,
		ActorID:           rctx.SubjectID,
		CreatedAt:         now,
	}

	// 4. Persist both atomically.
	if err := e.store.CreateInstance(ctx, inst, creation); err != nil {
		return CreationResult{}, err
	}

	return CreationResult{
		Instance: inst,
		Events:   def.EventsOn(model.EventOnCreate, ""),
	}, nil
}

// Fire applies a trigger to an instance on behalf of the acting subject.
// The transition must be declared from the instance's current state in the
// definition version the instance is pinned to.
func (e *Engine) Fire(
	ctx context.Context,
	rctx *model.RequestContext,
	instanceID string,
	trigger string,
	metadata map[string]any,
) (TransitionResult, error) {
	return e.transition(ctx, rctx, instanceID, trigger, metadata, model.OriginDirect, "", e.matchDeclared(trigger))
}

// Force moves an instance as directed by a resolved approval. Only state
// membership is checked: the approval flow already validated the trigger
// when it opened, and the decision names the target state directly.
func (e *Engine) Force(
	ctx context.Context,
	rctx *model.RequestContext,
	instanceID string,
	trigger string,
	targetState string,
	approvalRequestID string,
) (TransitionResult, error) {
	match := func(def model.JourneyDefinition, inst model.JourneyInstance) (string, error) {
		if !def.HasState(targetState) {
			return "", model.NewIllegalTransitionError(
				fmt.Sprintf("state %q is not declared in journey %q", targetState, def.Code),
			)
		}
		return targetState, nil
	}
	return e.transition(ctx, rctx, instanceID, trigger, nil, model.OriginApprovalEngine, approvalRequestID, match)
}

// matchDeclared resolves the target state from the declared transition
// table, rejecting triggers with no transition from the current state.
func (e *Engine) matchDeclared(trigger string) targetResolver {
	return func(def model.JourneyDefinition, inst model.JourneyInstance) (string, error) {
		t, ok := def.FindTransition(inst.CurrentState, trigger)
		if !ok {
			return "", model.NewIllegalTransitionError(
				fmt.Sprintf("no transition from state %q with trigger %q", inst.CurrentState, trigger),
			)
		}
		return t.ToState, nil
	}
}

type targetResolver func(model.JourneyDefinition, model.JourneyInstance) (string, error)

func (e *Engine) transition(
	ctx context.Context,
	rctx *model.RequestContext,
	instanceID string,
	trigger string,
	metadata map[string]any,
	origin string,
	approvalRequestID string,
	resolveTarget targetResolver,
) (res TransitionResult, err error) {
	ctx, span := observability.StartSpan(ctx, "journey.transition",
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrInstanceID.String(instanceID),
		observability.AttrTrigger.String(trigger),
		observability.AttrOrigin.String(origin),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	var lastErr error
	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		// 1. Load the instance fresh; a retry must see the state the
		// conflicting writer left behind.
		inst, err := e.store.GetInstance(ctx, rctx.TenantID, instanceID)
		if err != nil {
			return TransitionResult{}, err
		}

		// 2. Look up the pinned definition version.
		def, err := e.registry.Version(ctx, rctx.TenantID, inst.JourneyCode, inst.JourneyVersion)
		if err != nil {
			return TransitionResult{}, err
		}

		// 3. Resolve the target state.
		toState, err := resolveTarget(def, inst)
		if err != nil {
			e.observeTransition(inst.JourneyCode, origin, "rejected")
			return TransitionResult{}, err
		}

		// 4. Build the log entry and the updated instance.
		now := time.Now().UTC()
		entry := model.TransitionLogEntry{
			ID:                uuid.New().String(),
			TenantID:          rctx.TenantID,
			JourneyInstanceID: inst.ID,
			MemberID:          inst.MemberID,
			FromState:         inst.CurrentState,
			ToState:           toState,
			Trigger:           trigger,
			Origin:            origin,
			ActorID:           rctx.SubjectID,
			ApprovalRequestID: approvalRequestID,
			Metadata:          metadata,
			CreatedAt:         now,
		}

		inst.CurrentState = toState
		inst.UpdatedAt = now

		// 5. Commit state and log atomically, guarded by the version read
		// in step 1.
		err = e.store.ApplyTransition(ctx, inst, entry)
		if err == nil {
			inst.Version++
			e.observeTransition(inst.JourneyCode, origin, "committed")
			return TransitionResult{
				Instance: inst,
				Entry:    entry,
				Events:   def.EventsOn(model.EventOnTransition, trigger),
			}, nil
		}
		if model.CodeOf(err) != model.ErrConflict {
			return TransitionResult{}, err
		}

		if e.onConflict != nil {
			e.onConflict(inst.JourneyCode)
		}
		lastErr = err
	}

	return TransitionResult{}, lastErr
}

func (e *Engine) observeTransition(journeyCode, origin, status string) {
	if e.onTransition != nil {
		e.onTransition(journeyCode, origin, status)
	}
}

// Get retrieves an instance scoped to the caller's tenant.
func (e *Engine) Get(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.JourneyInstance, error) {
	return e.store.GetInstance(ctx, rctx.TenantID, instanceID)
}

// FindByMember retrieves a member's instance for a journey code.
func (e *Engine) FindByMember(ctx context.Context, rctx *model.RequestContext, memberID, journeyCode string) (model.JourneyInstance, error) {
	return e.store.FindByMember(ctx, rctx.TenantID, memberID, journeyCode)
}

// History returns an instance's transition log in append order.
func (e *Engine) History(ctx context.Context, rctx *model.RequestContext, instanceID string) ([]model.TransitionLogEntry, error) {
	return e.store.GetLog(ctx, rctx.TenantID, instanceID)
}

// SearchLog returns log entries for the caller's tenant matching the
// filters, in append order across instances.
func (e *Engine) SearchLog(ctx context.Context, rctx *model.RequestContext, filters LogFilters) ([]model.TransitionLogEntry, error) {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return e.store.SearchLog(ctx, rctx.TenantID, filters)
}

// LatestEntry returns the most recent log entry for an instance.
func (e *Engine) LatestEntry(ctx context.Context, rctx *model.RequestContext, instanceID string) (model.TransitionLogEntry, error) {
	return e.store.LatestEntry(ctx, rctx.TenantID, instanceID)
}

// Delete removes an instance and its transition log. Administrative use
// only; normal journeys end in a terminal state, they are not deleted.
func (e *Engine) Delete(ctx context.Context, rctx *model.RequestContext, instanceID string) error {
	return e.store.DeleteInstance(ctx, rctx.TenantID, instanceID)
}

// List returns instances for the caller's tenant matching the filters.
func (e *Engine) List(ctx context.Context, rctx *model.RequestContext, filters InstanceFilters) ([]model.JourneyInstance, error) {
	if filters.Limit <= 0 {
		filters.Limit = 20
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return e.store.FindInstances(ctx, rctx.TenantID, filters)
}
