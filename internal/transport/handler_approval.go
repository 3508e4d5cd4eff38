package transport

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chamahq/journey/internal/approval"
	"github.com/chamahq/journey/model"
)

func handleApprovalGet(gate *approval.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		requestID := chi.URLParam(r, "requestId")

		req, err := gate.Get(r.Context(), rctx, requestID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, req)
	}
}

func handleApprovalResolve(gate *approval.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		requestID := chi.URLParam(r, "requestId")

		var body struct {
			Decision    string `json:"decision"`
			TargetState string `json:"target_state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		res, err := gate.Resolve(r.Context(), rctx, requestID, body.Decision, body.TargetState)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resolutionResponse(res))
	}
}

// handleApprovalList searches approval requests. Without a status filter it
// lists pending requests, which is the reviewer work-queue view.
func handleApprovalList(gate *approval.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		q := r.URL.Query()
		filters := approval.Filters{
			InstanceID: q.Get("instance_id"),
			MemberID:   q.Get("member_id"),
			Status:     q.Get("status"),
		}
		if filters.Status == "" {
			filters.Status = model.ApprovalStatusPending
		}
		var err error
		if filters.Limit, err = queryInt(q, "limit"); err != nil {
			WriteError(w, err)
			return
		}
		if filters.Offset, err = queryInt(q, "offset"); err != nil {
			WriteError(w, err)
			return
		}

		requests, err := gate.Search(r.Context(), rctx, filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"requests": requests})
	}
}

// handleBoardWebhook resolves an approval from a kanban board callback, looked
// up by the card the board reports rather than the request ID.
func handleBoardWebhook(gate *approval.Gate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var body struct {
			CardID      string `json:"card_id"`
			Decision    string `json:"decision"`
			TargetState string `json:"target_state"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
		if body.CardID == "" {
			WriteError(w, model.NewBadRequestError("card_id is required"))
			return
		}

		res, err := gate.ResolveByCard(r.Context(), rctx, body.CardID, body.Decision, body.TargetState)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, resolutionResponse(res))
	}
}

// resolutionResponse flattens a gate resolution for the wire. A transition
// failure does not undo the decision, so it is reported as a field rather
// than an error status.
func resolutionResponse(res approval.Resolution) map[string]any {
	body := map[string]any{"request": res.Request}
	if res.Transition != nil {
		body["transition"] = res.Transition
	}
	if res.TransitionError != nil {
		body["transition_error"] = res.TransitionError.Error()
	}
	return body
}
