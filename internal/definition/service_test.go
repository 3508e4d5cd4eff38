package definition

import (
	"context"
	"testing"

	"github.com/chamahq/journey/model"
)

func testRctx() *model.RequestContext {
	return &model.RequestContext{
		SubjectID: "user-admin",
		TenantID:  "tenant-1",
		Email:     "admin@example.com",
	}
}

func TestPublishAssignsMonotonicVersions(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()
	rctx := testRctx()

	first, err := svc.Publish(ctx, rctx, validDefinition())
	if err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if first.Version != 1 {
		t.Errorf("first version = %d, want 1", first.Version)
	}
	if first.IsActive {
		t.Error("published definition should start inactive")
	}
	if first.ID == "" {
		t.Error("published definition should be assigned an ID")
	}

	second, err := svc.Publish(ctx, rctx, validDefinition())
	if err != nil {
		t.Fatalf("second publish: %v", err)
	}
	if second.Version != 2 {
		t.Errorf("second version = %d, want 2", second.Version)
	}
}

func TestPublishRejectsInvalidDefinition(t *testing.T) {
	svc := NewService(NewMemoryStore())

	def := validDefinition()
	def.Transitions = append(def.Transitions, model.TransitionDefinition{
		FromState: "DRAFT", Trigger: "submit", ToState: "REJECTED",
	})

	_, err := svc.Publish(context.Background(), testRctx(), def)
	if err == nil {
		t.Fatal("expected validation error for duplicate (from, trigger) pair")
	}
	if got := model.CodeOf(err); got != model.ErrValidationError {
		t.Errorf("error code = %s, want %s", got, model.ErrValidationError)
	}
}

func TestPublishScopesToCallerTenant(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	def := validDefinition()
	def.TenantID = "tenant-spoofed"

	published, err := svc.Publish(ctx, testRctx(), def)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.TenantID != "tenant-1" {
		t.Errorf("tenant = %s, want tenant-1", published.TenantID)
	}

	if _, err := store.FindByCode(ctx, "tenant-spoofed", def.Code, 0); model.CodeOf(err) != model.ErrJourneyNotFound {
		t.Error("definition should not be visible under the spoofed tenant")
	}
}

func TestActivateFlipsSingleVersion(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store)
	ctx := context.Background()
	rctx := testRctx()

	v1, err := svc.Publish(ctx, rctx, validDefinition())
	if err != nil {
		t.Fatalf("publish v1: %v", err)
	}
	v2, err := svc.Publish(ctx, rctx, validDefinition())
	if err != nil {
		t.Fatalf("publish v2: %v", err)
	}

	if err := svc.Activate(ctx, rctx, v1.Code, v1.Version); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	active, err := store.FindActive(ctx, rctx.TenantID, v1.Code)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if active.Version != 1 {
		t.Errorf("active version = %d, want 1", active.Version)
	}

	if err := svc.Activate(ctx, rctx, v2.Code, v2.Version); err != nil {
		t.Fatalf("activate v2: %v", err)
	}
	active, err = store.FindActive(ctx, rctx.TenantID, v2.Code)
	if err != nil {
		t.Fatalf("find active after flip: %v", err)
	}
	if active.Version != 2 {
		t.Errorf("active version after flip = %d, want 2", active.Version)
	}

	defs, err := svc.List(ctx, rctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	activeCount := 0
	for _, d := range defs {
		if d.IsActive {
			activeCount++
		}
	}
	if activeCount != 1 {
		t.Errorf("active versions = %d, want exactly 1", activeCount)
	}
}

func TestActivateUnknownVersion(t *testing.T) {
	svc := NewService(NewMemoryStore())
	rctx := testRctx()

	err := svc.Activate(context.Background(), rctx, "member_onboarding", 7)
	if got := model.CodeOf(err); got != model.ErrJourneyNotFound {
		t.Errorf("error code = %s, want %s", got, model.ErrJourneyNotFound)
	}
}
