package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chamahq/journey/internal/journey"
	"github.com/chamahq/journey/internal/observability"
	"github.com/chamahq/journey/model"
)

// PolicySource resolves policy codes for gated commands.
type PolicySource interface {
	Lookup(code string) (Policy, bool)
	Blocking(code string) bool
}

// Gate pauses policy-gated transitions behind a human decision. The
// persisted approval request is the source of truth; the external board
// card is a best-effort mirror.
type Gate struct {
	store    Store
	engine   *journey.Engine
	policies PolicySource
	board    Projector
	logger   *zap.Logger

	onOpened            func(policyCode string)
	onResolved          func(policyCode, status string)
	onProjectionFailure func()
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithBoard attaches an external board projector.
func WithBoard(board Projector) GateOption {
	return func(g *Gate) { g.board = board }
}

// WithGateObserver registers metric callbacks for opened requests,
// resolutions and projection failures.
func WithGateObserver(onOpened func(policyCode string), onResolved func(policyCode, status string), onProjectionFailure func()) GateOption {
	return func(g *Gate) {
		g.onOpened = onOpened
		g.onResolved = onResolved
		g.onProjectionFailure = onProjectionFailure
	}
}

// NewGate creates an approval Gate.
func NewGate(store Store, engine *journey.Engine, policies PolicySource, logger *zap.Logger, opts ...GateOption) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		store:    store,
		engine:   engine,
		policies: policies,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequiresApproval reports whether the policy code blocks execution.
func (g *Gate) RequiresApproval(policyCode string) bool {
	return g.policies.Blocking(policyCode)
}

// Open verifies the instance exists and creates a PENDING approval request
// for the parked trigger. If a board pipeline is configured for the policy,
// the request is projected as a card; projection failure is logged and
// swallowed, never propagated.
func (g *Gate) Open(ctx context.Context, rctx *model.RequestContext, instanceID, journeyTrigger, policyCode string, metadata map[string]any) (out model.ApprovalRequest, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.open",
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrInstanceID.String(instanceID),
		observability.AttrTrigger.String(journeyTrigger),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	inst, err := g.engine.Get(ctx, rctx, instanceID)
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	req := model.ApprovalRequest{
		ID:                uuid.New().String(),
		TenantID:          rctx.TenantID,
		JourneyInstanceID: inst.ID,
		MemberID:          inst.MemberID,
		JourneyTrigger:    journeyTrigger,
		PolicyCode:        policyCode,
		Status:            model.ApprovalStatusPending,
		Metadata:          metadata,
		CreatedAt:         time.Now().UTC(),
	}

	if err := g.store.Create(ctx, req); err != nil {
		return model.ApprovalRequest{}, err
	}
	if g.onOpened != nil {
		g.onOpened(policyCode)
	}

	if cardID := g.project(ctx, req, inst); cardID != "" {
		req.KanbanCardID = cardID
	}
	return req, nil
}

// project mirrors the request onto the board. Returns the card ID on
// success, empty on any failure.
func (g *Gate) project(ctx context.Context, req model.ApprovalRequest, inst model.JourneyInstance) string {
	if g.board == nil {
		return ""
	}
	policy, ok := g.policies.Lookup(req.PolicyCode)
	if !ok || policy.PipelineID == "" {
		return ""
	}

	cardID, err := g.board.CreateCard(ctx, Card{
		PipelineID:  policy.PipelineID,
		Title:       fmt.Sprintf("Approve %s for member %s", req.JourneyTrigger, req.MemberID),
		Description: fmt.Sprintf("Journey %s, instance %s, state %s", inst.JourneyCode, inst.ID, inst.CurrentState),
		ExternalRef: req.ID,
		Fields: map[string]any{
			"tenant_id":    req.TenantID,
			"journey_code": inst.JourneyCode,
			"policy_code":  req.PolicyCode,
		},
	})
	if err != nil {
		g.logger.Warn("board card projection failed",
			zap.String("approval_request_id", req.ID),
			zap.String("policy_code", req.PolicyCode),
			zap.Error(err),
		)
		if g.onProjectionFailure != nil {
			g.onProjectionFailure()
		}
		return ""
	}

	if err := g.store.AttachCard(ctx, req.TenantID, req.ID, cardID); err != nil {
		g.logger.Warn("attaching board card to approval request failed",
			zap.String("approval_request_id", req.ID),
			zap.String("card_id", cardID),
			zap.Error(err),
		)
		return ""
	}
	return cardID
}

// Resolution is the two-part outcome of resolving an approval: the decision
// itself, and the follow-up transition when one was requested. A committed
// decision is never undone by a transition failure.
type Resolution struct {
	Request    model.ApprovalRequest     `json:"request"`
	Transition *journey.TransitionResult `json:"transition,omitempty"`
	// TransitionError is set when the decision committed but the follow-up
	// transition failed.
	TransitionError error `json:"-"`
}

// Resolve applies a decision to a pending request exactly once. On APPROVED
// with a target state, the engine moves the instance there with
// origin APPROVAL_ENGINE and the log entry linked back to this request.
func (g *Gate) Resolve(ctx context.Context, rctx *model.RequestContext, requestID, decision, targetState string) (res Resolution, err error) {
	ctx, span := observability.StartSpan(ctx, "approval.resolve",
		observability.AttrTenantID.String(rctx.TenantID),
		observability.AttrApprovalID.String(requestID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	if !model.ValidDecision(decision) {
		return Resolution{}, model.NewBadRequestError(
			fmt.Sprintf("decision must be %s or %s", model.ApprovalStatusApproved, model.ApprovalStatusRejected),
		)
	}

	now := time.Now().UTC()
	if err := g.store.Resolve(ctx, rctx.TenantID, requestID, decision, rctx.SubjectID, now); err != nil {
		return Resolution{}, err
	}
	req, err := g.store.Get(ctx, rctx.TenantID, requestID)
	if err != nil {
		return Resolution{}, err
	}
	if g.onResolved != nil {
		g.onResolved(req.PolicyCode, decision)
	}
	res = Resolution{Request: req}

	if decision != model.ApprovalStatusApproved || targetState == "" {
		return res, nil
	}

	applied, err := g.engine.Force(ctx, rctx, req.JourneyInstanceID, req.JourneyTrigger, targetState, req.ID)
	if err != nil {
		// The decision stands; report the transition failure separately.
		g.logger.Error("post-approval transition failed",
			zap.String("approval_request_id", req.ID),
			zap.String("journey_instance_id", req.JourneyInstanceID),
			zap.String("target_state", targetState),
			zap.Error(err),
		)
		res.TransitionError = err
		return res, nil
	}

	res.Transition = &applied
	return res, nil
}

// ResolveByCard resolves the request projected onto the given board card.
// Used by the board webhook.
func (g *Gate) ResolveByCard(ctx context.Context, rctx *model.RequestContext, cardID, decision, targetState string) (Resolution, error) {
	req, err := g.store.FindByCard(ctx, rctx.TenantID, cardID)
	if err != nil {
		return Resolution{}, err
	}
	return g.Resolve(ctx, rctx, req.ID, decision, targetState)
}

// Get retrieves an approval request scoped to the caller's tenant.
func (g *Gate) Get(ctx context.Context, rctx *model.RequestContext, requestID string) (model.ApprovalRequest, error) {
	return g.store.Get(ctx, rctx.TenantID, requestID)
}

// Search returns requests for the tenant matching the filters, oldest
// first.
func (g *Gate) Search(ctx context.Context, rctx *model.RequestContext, filters Filters) ([]model.ApprovalRequest, error) {
	if filters.Limit <= 0 {
		filters.Limit = 50
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return g.store.Find(ctx, rctx.TenantID, filters)
}

// ListPending returns pending requests for the tenant, optionally narrowed
// to one instance.
func (g *Gate) ListPending(ctx context.Context, rctx *model.RequestContext, instanceID string) ([]model.ApprovalRequest, error) {
	return g.Search(ctx, rctx, Filters{
		InstanceID: instanceID,
		Status:     model.ApprovalStatusPending,
	})
}
