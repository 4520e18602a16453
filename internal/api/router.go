package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playout-core/internal/auth"
)

// healthCheckTimeout bounds each dependency check of GET /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// WebSocket (token validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/rundowns", func(r chi.Router) {
				r.With(s.requirePermission(auth.PermPlayoutRead)).Get("/", s.handleListRundowns)

				r.Route("/{id}", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermPlayoutRead))
						r.Get("/", s.handleGetRundown)
						r.Get("/parts", s.handleListParts)
						r.Get("/snapshot", s.handleSnapshot)
						r.Get("/asrun", s.handleListAsRun)
						r.Get("/part-instances/{piid}/pieces", s.handleActivePieces)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermPlayoutOperate))
						r.Post("/activate", s.handleActivate)
						r.Post("/deactivate", s.handleDeactivate)
						r.Post("/reset", s.handleReset)
						r.Post("/take", s.handleTake)
						r.Post("/next", s.handleSetNext)
						r.Post("/move-next", s.handleMoveNext)
						r.Post("/hold", s.handleActivateHold)
						r.Post("/hold/cancel", s.handleDeactivateHold)
						r.Post("/adlibs/{adlibId}/start", s.handleStartAdLib)
						r.Route("/part-instances/{piid}", func(r chi.Router) {
							r.Post("/pieces/{pieceId}/take-now", s.handlePieceTakeNow)
							r.Post("/pieces/{pieceId}/stop", s.handleStopAdLibPiece)
							r.Post("/layers/{layer}/stop", s.handleStopLayer)
						})
						r.Post("/callbacks", s.handleCallback)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermRundownIngest))
						r.Put("/", s.handlePutRundown)
						r.Delete("/", s.handleDeleteRundown)
						r.Put("/segments/{sid}", s.handlePutSegment)
						r.Delete("/segments/{sid}", s.handleDeleteSegment)
						r.Put("/segments/{sid}/replace", s.handleReplaceSegment)
						r.Put("/parts/{pid}", s.handlePutPart)
						r.Delete("/parts/{pid}", s.handleDeletePart)
						r.Put("/pieces/{pid}", s.handlePutPiece)
						r.Delete("/pieces/{pid}", s.handleDeletePiece)
						r.Put("/adlibs/{aid}", s.handlePutAdLib)
						r.Delete("/adlibs/{aid}", s.handleDeleteAdLib)
					})
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status, any failing dependency and
// the figures healthy dependencies report.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	details := make(map[string]map[string]any)
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := c.HealthCheck(ctx)
		if err == nil {
			if d, ok := c.(HealthDetailer); ok {
				details[name] = d.HealthDetails(ctx)
			}
		}
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := map[string]any{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.hub.ClientCount(),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(checks) > 0 {
		body["checks"] = checks
	}
	if len(details) > 0 {
		body["details"] = details
	}
	writeJSON(w, status, body)
}
