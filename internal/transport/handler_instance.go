package transport

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/chamahq/journey/internal/journey"
	"github.com/chamahq/journey/model"
)

// queryInt parses an optional non-negative integer query parameter, returning
// 0 when absent.
func queryInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, model.NewBadRequestError(key + " must be a non-negative integer")
	}
	return n, nil
}

// queryTime parses an optional RFC 3339 timestamp query parameter, returning
// the zero time when absent.
func queryTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, model.NewBadRequestError(key + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

func handleInstanceGet(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		inst, err := engine.Get(r.Context(), rctx, instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}

func handleInstanceLog(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		entries, err := engine.History(r.Context(), rctx, instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

func handleInstanceList(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		q := r.URL.Query()
		filters := journey.InstanceFilters{
			MemberID:     q.Get("member_id"),
			JourneyCode:  q.Get("journey_code"),
			CurrentState: q.Get("current_state"),
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

		instances, err := engine.List(r.Context(), rctx, filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"instances": instances})
	}
}

func handleInstanceLogLatest(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		entry, err := engine.LatestEntry(r.Context(), rctx, instanceID)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, entry)
	}
}

// handleTransitionSearch searches the transition log across instances, the
// tenant-wide audit view.
func handleTransitionSearch(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		q := r.URL.Query()
		filters := journey.LogFilters{
			InstanceID: q.Get("instance_id"),
			MemberID:   q.Get("member_id"),
			Trigger:    q.Get("trigger"),
			Origin:     q.Get("origin"),
		}
		var err error
		if filters.Since, err = queryTime(q, "since"); err != nil {
			WriteError(w, err)
			return
		}
		if filters.Until, err = queryTime(q, "until"); err != nil {
			WriteError(w, err)
			return
		}
		if filters.Limit, err = queryInt(q, "limit"); err != nil {
			WriteError(w, err)
			return
		}
		if filters.Offset, err = queryInt(q, "offset"); err != nil {
			WriteError(w, err)
			return
		}

		entries, err := engine.SearchLog(r.Context(), rctx, filters)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
	}
}

func handleInstanceDelete(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		instanceID := chi.URLParam(r, "instanceId")

		if err := engine.Delete(r.Context(), rctx, instanceID); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleInstanceByMember(engine *journey.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		memberID := chi.URLParam(r, "memberId")
		journeyCode := chi.URLParam(r, "journeyCode")

		inst, err := engine.FindByMember(r.Context(), rctx, memberID, journeyCode)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, inst)
	}
}
