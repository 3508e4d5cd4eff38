package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestBoardClientCreateCard(t *testing.T) {
	var gotAuth string
	var gotCard Card

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/pipelines/pipeline-1/cards" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotCard); err != nil {
			t.Errorf("decode card: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": "card-42"})
	}))
	defer server.Close()

	client := NewBoardClient(server.URL, "secret-token", time.Second, nil)
	id, err := client.CreateCard(context.Background(), Card{
		PipelineID:  "pipeline-1",
		Title:       "Approve approve for member member-7",
		ExternalRef: "approval-1",
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	if id != "card-42" {
		t.Errorf("card id = %s, want card-42", id)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("authorization = %q", gotAuth)
	}
	if gotCard.ExternalRef != "approval-1" {
		t.Errorf("external ref = %s, want approval-1", gotCard.ExternalRef)
	}
}

func TestBoardClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "pipeline not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewBoardClient(server.URL, "", time.Second, nil)
	_, err := client.CreateCard(context.Background(), Card{PipelineID: "missing"})
	if err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestBoardClientBreakerShortCircuits(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	breaker := NewBreaker(2, 1, time.Minute)
	client := NewBoardClient(server.URL, "", time.Second, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.CreateCard(ctx, Card{PipelineID: "p"}); err == nil {
			t.Fatal("expected failure")
		}
	}
	if breaker.State() != BreakerOpen {
		t.Fatalf("breaker state = %s, want open", breaker.State())
	}

	// Tripped breaker rejects without touching the board.
	if _, err := client.CreateCard(ctx, Card{PipelineID: "p"}); err != ErrBreakerOpen {
		t.Errorf("error = %v, want ErrBreakerOpen", err)
	}
	if calls != 2 {
		t.Errorf("board calls = %d, want 2", calls)
	}
}
