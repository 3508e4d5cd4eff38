package approval

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policies.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy file: %v", err)
	}
	return path
}

func TestStaticPolicySource(t *testing.T) {
	path := writePolicyFile(t, `
policies:
  member_review:
    pipeline_id: pipeline-review
    blocking: true
  fast_track:
    blocking: false
`)

	source, err := NewStaticPolicySource(path)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}

	policy, ok := source.Lookup("member_review")
	if !ok {
		t.Fatal("member_review should be declared")
	}
	if policy.PipelineID != "pipeline-review" || !policy.Blocking {
		t.Errorf("policy = %+v", policy)
	}

	if source.Blocking("fast_track") {
		t.Error("fast_track should not block")
	}
	if !source.Blocking("unknown_policy") {
		t.Error("unknown policies should block")
	}
}

func TestStaticPolicySourceMissingFile(t *testing.T) {
	if _, err := NewStaticPolicySource("/no/such/file.yaml"); err == nil {
		t.Fatal("expected an error for a missing policy file")
	}
}

func TestStaticPolicySourceSyncReload(t *testing.T) {
	path := writePolicyFile(t, `
policies:
  member_review:
    blocking: true
`)

	source, err := NewStaticPolicySource(path)
	if err != nil {
		t.Fatalf("new source: %v", err)
	}
	if !source.Blocking("member_review") {
		t.Fatal("member_review should block initially")
	}

	updated := `
policies:
  member_review:
    blocking: false
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite policy file: %v", err)
	}
	if err := source.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if source.Blocking("member_review") {
		t.Error("member_review should not block after reload")
	}
}
