package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chamahq/journey/internal/journey"
	"github.com/chamahq/journey/internal/observability"
	"github.com/chamahq/journey/model"
)

func handleCommand(resolver *journey.Resolver, metrics *observability.Metrics, fallback *zap.Logger) http.HandlerFunc {
	if fallback == nil {
		fallback = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rctx := model.RequestContextFrom(r.Context())
		if rctx == nil {
			WriteError(w, model.NewUnauthorizedError("missing request context"))
			return
		}

		var cmd journey.Command
		if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}

		start := time.Now()
		result, err := resolver.Resolve(r.Context(), rctx, cmd)
		if metrics != nil {
			outcome := "error"
			if err == nil {
				outcome = string(result.Outcome)
			}
			metrics.CommandsTotal.WithLabelValues(cmd.JourneyCode, cmd.Command, outcome).Inc()
			metrics.CommandDuration.WithLabelValues(cmd.JourneyCode, cmd.Command).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			WriteError(w, err)
			return
		}
		if metrics != nil && result.Outcome == journey.OutcomeInstanceCreated {
			metrics.InstancesCreatedTotal.WithLabelValues(cmd.JourneyCode).Inc()
		}

		logger := observability.RequestLogger(r.Context(), fallback)
		logger.Info("command resolved",
			zap.String("journey_code", cmd.JourneyCode),
			zap.String("command", cmd.Command),
			zap.String("outcome", string(result.Outcome)),
		)
		logger.Debug("command metadata",
			zap.Any("metadata", observability.RedactMetadata(cmd.Metadata, nil)),
		)

		status := http.StatusOK
		if result.Outcome == journey.OutcomeInstanceCreated {
			status = http.StatusCreated
		}
		WriteJSON(w, status, result)
	}
}
