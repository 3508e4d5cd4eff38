package journey

import (
	"context"
	"testing"
	"time"

	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/model"
)

// mockGate records opened approvals and gates a configurable policy set.
type mockGate struct {
	blocking map[string]bool
	opened   []mockOpenCall
}

type mockOpenCall struct {
	InstanceID string
	Trigger    string
	PolicyCode string
}

func (g *mockGate) RequiresApproval(policyCode string) bool {
	return g.blocking[policyCode]
}

func (g *mockGate) Open(_ context.Context, rctx *model.RequestContext, instanceID, journeyTrigger, policyCode string, _ map[string]any) (model.ApprovalRequest, error) {
	g.opened = append(g.opened, mockOpenCall{InstanceID: instanceID, Trigger: journeyTrigger, PolicyCode: policyCode})
	return model.ApprovalRequest{
		ID:                "approval-1",
		TenantID:          rctx.TenantID,
		JourneyInstanceID: instanceID,
		JourneyTrigger:    journeyTrigger,
		PolicyCode:        policyCode,
		Status:            model.ApprovalStatusPending,
		CreatedAt:         time.Now().UTC(),
	}, nil
}

func newResolverEnv(t *testing.T, gate ApprovalGate, defs ...model.JourneyDefinition) (*Resolver, *testEnv) {
	t.Helper()
	env := newTestEnv(t, defs...)
	return NewResolver(env.engine, gate), env
}

func TestResolveCreateInstance(t *testing.T) {
	resolver, _ := newResolverEnv(t, nil, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	result, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "activation", Command: "START", MemberID: "member-1",
	})
	if err != nil {
		t.Fatalf("resolve START: %v", err)
	}
	if result.Outcome != OutcomeInstanceCreated {
		t.Errorf("outcome = %s, want %s", result.Outcome, OutcomeInstanceCreated)
	}
	if result.Instance.CurrentState != "DRAFT" {
		t.Errorf("state = %s, want DRAFT", result.Instance.CurrentState)
	}

	// Second creation for the same member is an error, not a no-op.
	_, err = resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "activation", Command: "START", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrInstanceExists {
		t.Errorf("error code = %s, want %s", got, model.ErrInstanceExists)
	}
}

func TestResolveFireTriggerScenario(t *testing.T) {
	resolver, env := newResolverEnv(t, nil, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	if _, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "activation", Command: "START", MemberID: "member-1",
	}); err != nil {
		t.Fatalf("resolve START: %v", err)
	}

	result, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "activation", Command: "ACTIVATE_CMD", MemberID: "member-1",
	})
	if err != nil {
		t.Fatalf("resolve ACTIVATE_CMD: %v", err)
	}
	if result.Outcome != OutcomeTransitionApplied {
		t.Errorf("outcome = %s, want %s", result.Outcome, OutcomeTransitionApplied)
	}
	if result.Instance.CurrentState != "ACTIVE" {
		t.Errorf("state = %s, want ACTIVE", result.Instance.CurrentState)
	}
	if result.Entry == nil || result.Entry.FromState != "DRAFT" || result.Entry.ToState != "ACTIVE" {
		t.Errorf("entry = %+v", result.Entry)
	}

	log, _ := env.engine.History(ctx, rctx, result.Instance.ID)
	if len(log) != 2 {
		t.Errorf("log length = %d, want 2", len(log))
	}

	// Firing again from ACTIVE has no matching edge.
	_, err = resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "activation", Command: "ACTIVATE_CMD", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrIllegalTransition {
		t.Errorf("error code = %s, want %s", got, model.ErrIllegalTransition)
	}
}

func TestResolveUnknownJourney(t *testing.T) {
	resolver, _ := newResolverEnv(t, nil, activationDefinition())

	_, err := resolver.Resolve(context.Background(), testRctx(), Command{
		JourneyCode: "no_such_journey", Command: "START", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrJourneyNotFound {
		t.Errorf("error code = %s, want %s", got, model.ErrJourneyNotFound)
	}
}

func TestResolveUnknownCommand(t *testing.T) {
	resolver, _ := newResolverEnv(t, nil, activationDefinition())

	_, err := resolver.Resolve(context.Background(), testRctx(), Command{
		JourneyCode: "activation", Command: "LAUNCH", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrUnknownCommand {
		t.Errorf("error code = %s, want %s", got, model.ErrUnknownCommand)
	}
}

func TestResolveFireTriggerWithoutInstance(t *testing.T) {
	resolver, _ := newResolverEnv(t, nil, activationDefinition())

	_, err := resolver.Resolve(context.Background(), testRctx(), Command{
		JourneyCode: "activation", Command: "ACTIVATE_CMD", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrInstanceNotFound {
		t.Errorf("error code = %s, want %s", got, model.ErrInstanceNotFound)
	}
}

func TestResolveRejectsResolveApprovalAction(t *testing.T) {
	def := activationDefinition()
	def.Commands = append(def.Commands, model.CommandDefinition{
		Command: "DECIDE", Action: model.ActionResolveApproval,
	})
	resolver, _ := newResolverEnv(t, nil, def)

	_, err := resolver.Resolve(context.Background(), testRctx(), Command{
		JourneyCode: "activation", Command: "DECIDE", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrUnsupportedAction {
		t.Errorf("error code = %s, want %s", got, model.ErrUnsupportedAction)
	}
}

func TestResolveMissingTrigger(t *testing.T) {
	// The validator rejects trigger-less FIRE_TRIGGER commands at publish
	// time, so seed the store directly to simulate a legacy definition.
	defStore := definition.NewMemoryStore()
	def := activationDefinition()
	def.ID = "def-1"
	def.TenantID = "tenant-1"
	def.Version = 1
	def.Commands = append(def.Commands, model.CommandDefinition{
		Command: "BROKEN", Action: model.ActionFireTrigger,
	})
	ctx := context.Background()
	if err := defStore.Create(ctx, def); err != nil {
		t.Fatalf("seed definition: %v", err)
	}
	if err := defStore.Activate(ctx, "tenant-1", def.Code, 1); err != nil {
		t.Fatalf("activate: %v", err)
	}

	engine := NewEngine(definition.NewRegistry(defStore), NewMemoryStore())
	resolver := NewResolver(engine, nil)

	_, err := resolver.Resolve(ctx, testRctx(), Command{
		JourneyCode: "activation", Command: "BROKEN", MemberID: "member-1",
	})
	if got := model.CodeOf(err); got != model.ErrMissingTrigger {
		t.Errorf("error code = %s, want %s", got, model.ErrMissingTrigger)
	}
}

func TestResolvePolicyGatedCommandOpensApproval(t *testing.T) {
	gate := &mockGate{blocking: map[string]bool{"member_review": true}}
	resolver, env := newResolverEnv(t, gate, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	if _, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "member_onboarding", Command: "start", MemberID: "member-7",
	}); err != nil {
		t.Fatalf("resolve start: %v", err)
	}
	if _, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "member_onboarding", Command: "submit_application", MemberID: "member-7",
	}); err != nil {
		t.Fatalf("resolve submit_application: %v", err)
	}

	result, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "member_onboarding", Command: "approve_member", MemberID: "member-7",
	})
	if err != nil {
		t.Fatalf("resolve approve_member: %v", err)
	}
	if result.Outcome != OutcomeApprovalPending {
		t.Errorf("outcome = %s, want %s", result.Outcome, OutcomeApprovalPending)
	}
	if result.Approval == nil || result.Approval.Status != model.ApprovalStatusPending {
		t.Errorf("approval = %+v", result.Approval)
	}

	if len(gate.opened) != 1 {
		t.Fatalf("gate opened %d times, want 1", len(gate.opened))
	}
	if gate.opened[0].Trigger != "approve" || gate.opened[0].PolicyCode != "member_review" {
		t.Errorf("open call = %+v", gate.opened[0])
	}

	// The instance must not have moved; the trigger is parked.
	inst, err := env.engine.FindByMember(ctx, rctx, "member-7", "member_onboarding")
	if err != nil {
		t.Fatalf("find instance: %v", err)
	}
	if inst.CurrentState != "REVIEW" {
		t.Errorf("state = %s, want REVIEW (parked)", inst.CurrentState)
	}
}

func TestResolveNonBlockingPolicyFiresDirectly(t *testing.T) {
	gate := &mockGate{blocking: map[string]bool{}}
	resolver, _ := newResolverEnv(t, gate, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	for _, cmd := range []string{"start", "submit_application"} {
		if _, err := resolver.Resolve(ctx, rctx, Command{
			JourneyCode: "member_onboarding", Command: cmd, MemberID: "member-7",
		}); err != nil {
			t.Fatalf("resolve %s: %v", cmd, err)
		}
	}

	result, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "member_onboarding", Command: "approve_member", MemberID: "member-7",
		Metadata: map[string]any{"note": "fast-track"},
	})
	if err != nil {
		t.Fatalf("resolve approve_member: %v", err)
	}
	if result.Outcome != OutcomeTransitionApplied {
		t.Errorf("outcome = %s, want %s", result.Outcome, OutcomeTransitionApplied)
	}
	if result.Instance.CurrentState != "ONBOARDED" {
		t.Errorf("state = %s, want ONBOARDED", result.Instance.CurrentState)
	}
	if len(gate.opened) != 0 {
		t.Errorf("gate opened %d times, want 0", len(gate.opened))
	}

	// The audit trail keeps the policy code even though no approval was
	// required.
	if result.Entry == nil {
		t.Fatal("result entry missing")
	}
	if got := result.Entry.Metadata["policy_code"]; got != "member_review" {
		t.Errorf("entry policy_code = %v, want member_review", got)
	}
	if got := result.Entry.Metadata["note"]; got != "fast-track" {
		t.Errorf("entry note = %v, want fast-track", got)
	}
}

func TestResolveUnscopedCommandLeavesMetadataAlone(t *testing.T) {
	resolver, _ := newResolverEnv(t, nil, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	if _, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "member_onboarding", Command: "start", MemberID: "member-7",
	}); err != nil {
		t.Fatalf("resolve start: %v", err)
	}

	result, err := resolver.Resolve(ctx, rctx, Command{
		JourneyCode: "member_onboarding", Command: "submit_application", MemberID: "member-7",
		Metadata: map[string]any{"note": "walk-in"},
	})
	if err != nil {
		t.Fatalf("resolve submit_application: %v", err)
	}
	if result.Entry == nil {
		t.Fatal("result entry missing")
	}
	if _, ok := result.Entry.Metadata["policy_code"]; ok {
		t.Errorf("entry metadata = %v, policy_code should only appear on policy-scoped commands", result.Entry.Metadata)
	}
	if got := result.Entry.Metadata["note"]; got != "walk-in" {
		t.Errorf("entry note = %v, want walk-in", got)
	}
}

func TestResolveMissingFields(t *testing.T) {
	resolver, _ := newResolverEnv(t, nil, activationDefinition())

	_, err := resolver.Resolve(context.Background(), testRctx(), Command{
		JourneyCode: "activation", Command: "START",
	})
	if got := model.CodeOf(err); got != model.ErrBadRequest {
		t.Errorf("error code = %s, want %s", got, model.ErrBadRequest)
	}
}
