package journey

import (
	"context"
	"testing"

	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/model"
)

// --- Test helpers ---

func testRctx() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-alice",
		TenantID:  "tenant-1",
		Email:     "alice@example.com",
	}
}

func activationDefinition() model.JourneyDefinition {
	return model.JourneyDefinition{
		Code:         "activation",
		Name:         "Member Activation",
		States:       []string{"DRAFT", "ACTIVE"},
		InitialState: "DRAFT",
		Transitions: []model.TransitionDefinition{
			{FromState: "DRAFT", Trigger: "ACTIVATE", ToState: "ACTIVE"},
		},
		Commands: []model.CommandDefinition{
			{Command: "START", Action: model.ActionCreateInstance},
			{Command: "ACTIVATE_CMD", Action: model.ActionFireTrigger, Trigger: "ACTIVATE"},
		},
	}
}

func onboardingDefinition() model.JourneyDefinition {
	return model.JourneyDefinition{
		Code:         "member_onboarding",
		Name:         "Member Onboarding",
		States:       []string{"DRAFT", "REVIEW", "ONBOARDED", "REJECTED"},
		InitialState: "DRAFT",
		Transitions: []model.TransitionDefinition{
			{FromState: "DRAFT", Trigger: "submit", ToState: "REVIEW"},
			{FromState: "REVIEW", Trigger: "approve", ToState: "ONBOARDED"},
			{FromState: "REVIEW", Trigger: "reject", ToState: "REJECTED"},
		},
		Commands: []model.CommandDefinition{
			{Command: "start", Action: model.ActionCreateInstance},
			{Command: "submit_application", Action: model.ActionFireTrigger, Trigger: "submit"},
			{Command: "approve_member", Action: model.ActionFireTrigger, Trigger: "approve", Policy: "member_review"},
		},
		Events: []model.EventDefinition{
			{Name: "member.onboarding.started", On: model.EventOnCreate},
			{Name: "member.onboarding.submitted", On: model.EventOnTransition, Trigger: "submit"},
		},
	}
}

// testEnv wires an engine over memory stores with published definitions.
type testEnv struct {
	engine   *Engine
	store    Store
	registry *definition.Registry
	defs     *definition.Service
}

func newTestEnv(t *testing.T, defs ...model.JourneyDefinition) *testEnv {
	t.Helper()

	defStore := definition.NewMemoryStore()
	defService := definition.NewService(defStore)
	ctx := context.Background()
	rctx := testRctx()

	for _, def := range defs {
		published, err := defService.Publish(ctx, rctx, def)
		if err != nil {
			t.Fatalf("publish %s: %v", def.Code, err)
		}
		if err := defService.Activate(ctx, rctx, published.Code, published.Version); err != nil {
			t.Fatalf("activate %s: %v", def.Code, err)
		}
	}

	store := NewMemoryStore()
	registry := definition.NewRegistry(defStore)
	return &testEnv{
		engine:   NewEngine(registry, store),
		store:    store,
		registry: registry,
		defs:     defService,
	}
}

// --- CreateInstance ---

func TestCreateInstanceSeedsInitialState(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-7", map[string]any{"source": "referral"})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}

	inst := created.Instance
	if inst.CurrentState != "DRAFT" {
		t.Errorf("current state = %s, want DRAFT", inst.CurrentState)
	}
	if inst.JourneyVersion != 1 {
		t.Errorf("pinned version = %d, want 1", inst.JourneyVersion)
	}
	if inst.Version != 1 {
		t.Errorf("instance version = %d, want 1", inst.Version)
	}
	if len(created.Events) != 1 || created.Events[0] != "member.onboarding.started" {
		t.Errorf("creation events = %v, want [member.onboarding.started]", created.Events)
	}

	log, err := env.engine.History(ctx, rctx, inst.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("log length = %d, want 1", len(log))
	}
	entry := log[0]
	if !entry.IsCreation() {
		t.Error("first entry should be the creation marker")
	}
	if entry.ToState != "DRAFT" || entry.Trigger != model.CreationTrigger || entry.Origin != model.OriginDirect {
		t.Errorf("creation entry = %+v", entry)
	}
}

func TestCreateInstanceTwiceFails(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	if _, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil)
	if got := model.CodeOf(err); got != model.ErrInstanceExists {
		t.Errorf("error code = %s, want %s", got, model.ErrInstanceExists)
	}
}

func TestCreateInstancePinsVersionAcrossActivation(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Publish and activate v2 with the DRAFT->ACTIVE edge removed. The
	// in-flight instance keeps running against v1.
	v2 := activationDefinition()
	v2.Transitions = []model.TransitionDefinition{
		{FromState: "ACTIVE", Trigger: "DEACTIVATE", ToState: "DRAFT"},
	}
	v2.Commands = []model.CommandDefinition{
		{Command: "START", Action: model.ActionCreateInstance},
		{Command: "DEACTIVATE_CMD", Action: model.ActionFireTrigger, Trigger: "DEACTIVATE"},
	}
	published, err := env.defs.Publish(ctx, rctx, v2)
	if err != nil {
		t.Fatalf("publish v2: %v", err)
	}
	if err := env.defs.Activate(ctx, rctx, published.Code, published.Version); err != nil {
		t.Fatalf("activate v2: %v", err)
	}

	applied, err := env.engine.Fire(ctx, rctx, created.Instance.ID, "ACTIVATE", nil)
	if err != nil {
		t.Fatalf("fire on pinned version: %v", err)
	}
	if applied.Instance.CurrentState != "ACTIVE" {
		t.Errorf("state = %s, want ACTIVE", applied.Instance.CurrentState)
	}
}

// --- Fire ---

func TestFireAppliesDeclaredTransition(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := env.engine.Fire(ctx, rctx, created.Instance.ID, "ACTIVATE", nil)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if applied.Instance.CurrentState != "ACTIVE" {
		t.Errorf("state = %s, want ACTIVE", applied.Instance.CurrentState)
	}
	if applied.Entry.FromState != "DRAFT" || applied.Entry.ToState != "ACTIVE" || applied.Entry.Trigger != "ACTIVATE" {
		t.Errorf("log entry = %+v", applied.Entry)
	}
	if applied.Entry.Origin != model.OriginDirect {
		t.Errorf("origin = %s, want %s", applied.Entry.Origin, model.OriginDirect)
	}
	if applied.Entry.ActorID != "user-alice" {
		t.Errorf("actor = %s, want user-alice", applied.Entry.ActorID)
	}

	log, _ := env.engine.History(ctx, rctx, created.Instance.ID)
	if len(log) != 2 {
		t.Errorf("log length = %d, want 2", len(log))
	}
}

func TestFireIllegalTriggerLeavesInstanceUnchanged(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.Fire(ctx, rctx, created.Instance.ID, "ACTIVATE", nil); err != nil {
		t.Fatalf("first fire: %v", err)
	}

	// ACTIVE has no outgoing ACTIVATE edge.
	_, err = env.engine.Fire(ctx, rctx, created.Instance.ID, "ACTIVATE", nil)
	if got := model.CodeOf(err); got != model.ErrIllegalTransition {
		t.Fatalf("error code = %s, want %s", got, model.ErrIllegalTransition)
	}

	inst, err := env.engine.Get(ctx, rctx, created.Instance.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if inst.CurrentState != "ACTIVE" {
		t.Errorf("state = %s, want ACTIVE (unchanged)", inst.CurrentState)
	}
	log, _ := env.engine.History(ctx, rctx, created.Instance.ID)
	if len(log) != 2 {
		t.Errorf("log length = %d, want 2 (unchanged)", len(log))
	}
}

func TestFireUnknownInstance(t *testing.T) {
	env := newTestEnv(t, activationDefinition())

	_, err := env.engine.Fire(context.Background(), testRctx(), "no-such-instance", "ACTIVATE", nil)
	if got := model.CodeOf(err); got != model.ErrInstanceNotFound {
		t.Errorf("error code = %s, want %s", got, model.ErrInstanceNotFound)
	}
}

func TestFireReportsTransitionEvents(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-7", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := env.engine.Fire(ctx, rctx, created.Instance.ID, "submit", nil)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}
	if len(applied.Events) != 1 || applied.Events[0] != "member.onboarding.submitted" {
		t.Errorf("events = %v, want [member.onboarding.submitted]", applied.Events)
	}
}

// --- Log fold ---

func TestLogFoldReconstructsCurrentState(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-7", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, trigger := range []string{"submit", "approve"} {
		if _, err := env.engine.Fire(ctx, rctx, created.Instance.ID, trigger, nil); err != nil {
			t.Fatalf("fire %s: %v", trigger, err)
		}
	}

	log, err := env.engine.History(ctx, rctx, created.Instance.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}

	// Chain invariant: entry[n].fromState == entry[n-1].toState.
	folded := ""
	for i, entry := range log {
		if i > 0 && entry.FromState != log[i-1].ToState {
			t.Errorf("entry %d breaks the chain: from %s after %s", i, entry.FromState, log[i-1].ToState)
		}
		folded = entry.ToState
	}

	inst, err := env.engine.Get(ctx, rctx, created.Instance.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if folded != inst.CurrentState {
		t.Errorf("folded state = %s, current state = %s", folded, inst.CurrentState)
	}
}

// --- Force ---

func TestForceMovesToDeclaredState(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-7", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.engine.Fire(ctx, rctx, created.Instance.ID, "submit", nil); err != nil {
		t.Fatalf("fire submit: %v", err)
	}

	// REVIEW -> ONBOARDED without a declared edge lookup, as an approval
	// resolution would.
	applied, err := env.engine.Force(ctx, rctx, created.Instance.ID, "approve", "ONBOARDED", "approval-42")
	if err != nil {
		t.Fatalf("force: %v", err)
	}
	if applied.Instance.CurrentState != "ONBOARDED" {
		t.Errorf("state = %s, want ONBOARDED", applied.Instance.CurrentState)
	}
	if applied.Entry.Origin != model.OriginApprovalEngine {
		t.Errorf("origin = %s, want %s", applied.Entry.Origin, model.OriginApprovalEngine)
	}
	if applied.Entry.ApprovalRequestID != "approval-42" {
		t.Errorf("approval request id = %s, want approval-42", applied.Entry.ApprovalRequestID)
	}
}

func TestForceRejectsUndeclaredState(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-7", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = env.engine.Force(ctx, rctx, created.Instance.ID, "approve", "LIMBO", "approval-42")
	if got := model.CodeOf(err); got != model.ErrIllegalTransition {
		t.Errorf("error code = %s, want %s", got, model.ErrIllegalTransition)
	}
}

// --- Optimistic retry ---

// conflictingStore wraps a Store and fails ApplyTransition with CONFLICT a
// fixed number of times before delegating.
type conflictingStore struct {
	Store
	remaining int
	conflicts int
}

func (s *conflictingStore) ApplyTransition(ctx context.Context, inst model.JourneyInstance, entry model.TransitionLogEntry) error {
	if s.remaining > 0 {
		s.remaining--
		s.conflicts++
		return model.NewConflictError("simulated version conflict")
	}
	return s.Store.ApplyTransition(ctx, inst, entry)
}

func TestFireRetriesOnVersionConflict(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	conflicted := 0
	store := &conflictingStore{Store: env.store, remaining: 2}
	engine := NewEngine(env.registry, store, WithTransitionObserver(
		nil,
		func(string) { conflicted++ },
	))

	applied, err := engine.Fire(ctx, rctx, created.Instance.ID, "ACTIVATE", nil)
	if err != nil {
		t.Fatalf("fire after conflicts: %v", err)
	}
	if applied.Instance.CurrentState != "ACTIVE" {
		t.Errorf("state = %s, want ACTIVE", applied.Instance.CurrentState)
	}
	if conflicted != 2 {
		t.Errorf("observed conflicts = %d, want 2", conflicted)
	}
}

func TestFireGivesUpAfterMaxRetries(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "activation", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store := &conflictingStore{Store: env.store, remaining: maxTransitionRetries + 1}
	engine := NewEngine(env.registry, store)

	_, err = engine.Fire(ctx, rctx, created.Instance.ID, "ACTIVATE", nil)
	if got := model.CodeOf(err); got != model.ErrConflict {
		t.Errorf("error code = %s, want %s", got, model.ErrConflict)
	}
	if store.conflicts != maxTransitionRetries {
		t.Errorf("attempts = %d, want %d", store.conflicts, maxTransitionRetries)
	}
}

// --- Tenant isolation ---

func TestGetScopedToTenant(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()

	created, err := env.engine.CreateInstance(ctx, testRctx(), "activation", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	other := &model.RequestContext{SubjectID: "user-eve", TenantID: "tenant-2"}
	_, err = env.engine.Get(ctx, other, created.Instance.ID)
	if got := model.CodeOf(err); got != model.ErrInstanceNotFound {
		t.Errorf("error code = %s, want %s", got, model.ErrInstanceNotFound)
	}
}

// --- Log search ---

func TestSearchLogFiltersByTriggerAndOrigin(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	first, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-1", nil)
	if err != nil {
		t.Fatalf("create member-1: %v", err)
	}
	if _, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-2", nil); err != nil {
		t.Fatalf("create member-2: %v", err)
	}
	if _, err := env.engine.Fire(ctx, rctx, first.Instance.ID, "submit", nil); err != nil {
		t.Fatalf("fire submit: %v", err)
	}

	entries, err := env.engine.SearchLog(ctx, rctx, LogFilters{Trigger: "submit"})
	if err != nil {
		t.Fatalf("search by trigger: %v", err)
	}
	if len(entries) != 1 || entries[0].JourneyInstanceID != first.Instance.ID {
		t.Errorf("entries = %+v, want one submit entry for %s", entries, first.Instance.ID)
	}

	entries, err = env.engine.SearchLog(ctx, rctx, LogFilters{Origin: model.OriginDirect})
	if err != nil {
		t.Fatalf("search by origin: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("direct entries = %d, want 3 (two creations, one submit)", len(entries))
	}

	entries, err = env.engine.SearchLog(ctx, rctx, LogFilters{MemberID: "member-2"})
	if err != nil {
		t.Fatalf("search by member: %v", err)
	}
	if len(entries) != 1 || entries[0].MemberID != "member-2" {
		t.Errorf("member-2 entries = %+v, want one creation entry", entries)
	}
}

func TestSearchLogScopedToTenant(t *testing.T) {
	env := newTestEnv(t, activationDefinition())
	ctx := context.Background()

	if _, err := env.engine.CreateInstance(ctx, testRctx(), "activation", "member-1", nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	other := &model.RequestContext{SubjectID: "user-eve", TenantID: "tenant-2"}
	entries, err := env.engine.SearchLog(ctx, other, LogFilters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0 for foreign tenant", len(entries))
	}
}

func TestLatestEntryTracksHead(t *testing.T) {
	env := newTestEnv(t, onboardingDefinition())
	ctx := context.Background()
	rctx := testRctx()

	created, err := env.engine.CreateInstance(ctx, rctx, "member_onboarding", "member-1", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	latest, err := env.engine.LatestEntry(ctx, rctx, created.Instance.ID)
	if err != nil {
		t.Fatalf("latest after create: %v", err)
	}
	if !latest.IsCreation() {
		t.Errorf("latest = %+v, want the creation marker", latest)
	}

	fired, err := env.engine.Fire(ctx, rctx, created.Instance.ID, "submit", nil)
	if err != nil {
		t.Fatalf("fire: %v", err)
	}

	latest, err = env.engine.LatestEntry(ctx, rctx, created.Instance.ID)
	if err != nil {
		t.Fatalf("latest after fire: %v", err)
	}
	if latest.ID != fired.Entry.ID || latest.ToState != "REVIEW" {
		t.Errorf("latest = %+v, want the submit entry", latest)
	}

	_, err = env.engine.LatestEntry(ctx, rctx, "no-such-instance")
	if got := model.CodeOf(err); got != model.ErrInstanceNotFound {
		t.Errorf("error code = %s, want %s", got, model.ErrInstanceNotFound)
	}
}
