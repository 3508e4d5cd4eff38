package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Card is the payload projected onto the external kanban board.
type Card struct {
	PipelineID  string `json:"pipeline_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// ExternalRef carries the approval request ID so webhook callbacks can
	// be correlated even if the card ID mapping is lost.
	ExternalRef string         `json:"external_ref"`
	Fields      map[string]any `json:"fields,omitempty"`
}

// Projector mirrors approval requests onto an external board. The board is
// a mirror, never the source of truth; implementations may fail freely.
type Projector interface {
	CreateCard(ctx context.Context, card Card) (string, error)
}

// BoardClient is an HTTP Projector for the kanban board API, authenticated
// with a bearer token and shielded by a circuit breaker.
type BoardClient struct {
	baseURL string
	token   string
	client  *http.Client
	breaker *Breaker
}

// NewBoardClient creates a board client. timeout bounds each call end to
// end; the approval-open path must never hang on the board.
func NewBoardClient(baseURL, token string, timeout time.Duration, breaker *Breaker) *BoardClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &BoardClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

// Breaker exposes the client's circuit breaker for observability wiring.
func (c *BoardClient) Breaker() *Breaker {
	return c.breaker
}

// CreateCard creates a card in the given pipeline and returns its ID.
func (c *BoardClient) CreateCard(ctx context.Context, card Card) (string, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return "", err
		}
	}

	id, err := c.createCard(ctx, card)
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure()
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return id, err
}

func (c *BoardClient) createCard(ctx context.Context, card Card) (string, error) {
	body, err := json.Marshal(card)
	if err != nil {
		return "", fmt.Errorf("marshal card: %w", err)
	}

	url := fmt.Sprintf("%s/v1/pipelines/%s/cards", c.baseURL, card.PipelineID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build card request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create card: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("create card: board returned %d: %s", resp.StatusCode, snippet)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return "", fmt.Errorf("decode card response: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("create card: board returned no card id")
	}
	return created.ID, nil
}
