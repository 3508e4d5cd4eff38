package transport

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/chamahq/journey/internal/definition"
	"github.com/chamahq/journey/internal/observability"
	"github.com/chamahq/journey/model"
)

func handleDefinitionPublish(service *definition.Service, metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var def model.JourneyDefinition
		if err := json.NewDecoder(r.Body).Decode(&def); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		published, err := service.Publish(r.Context(), rctx, def)
		if metrics != nil {
			status := "published"
			if err != nil {
				status = "rejected"
			}
			metrics.DefinitionsPublishedTotal.WithLabelValues(status).Inc()
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, published)
	}
}

func handleDefinitionActivate(service *definition.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}
		code := chi.URLParam(r, "journeyCode")
		version, err := strconv.Atoi(chi.URLParam(r, "version"))
		if err != nil || version < 1 {
			WriteError(w, model.NewBadRequestError("version must be a positive integer"))
			return
		}

		if err := service.Activate(r.Context(), rctx, code, version); err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"journey_code": code,
			"version":      version,
			"active":       true,
		})
	}
}

func handleDefinitionList(service *definition.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		defs, err := service.List(r.Context(), rctx)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"definitions": defs})
	}
}
