package api

import (
	"net/http"

	"recon-server/src/config"
	"recon-server/src/handlers"
	"recon-server/src/middleware"
	"recon-server/src/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

func NewRouter(svc *service.Service, cfg config.Config, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORSMiddleware(cfg.CORSOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	authEnabled := cfg.JWTSecret != ""

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.JWTAuthMiddleware(cfg.JWTSecret))
		r.Use(middleware.ReadOnlyMiddleware(cfg.ReadOnly))

		// Classification
		r.Post("/classify", handlers.Classify(svc))

		// Parsing rules
		r.Get("/rules", handlers.GetAllParsingRules(svc))
		r.Post("/rules", handlers.CreateParsingRule(svc))
		r.Post("/rules/validate", handlers.ValidateParsingRule())
		r.Get("/rules/{rule_id}", handlers.GetParsingRuleByID(svc))
		r.Put("/rules/{rule_id}", handlers.UpdateParsingRule(svc))
		r.Delete("/rules/{rule_id}", handlers.DeleteParsingRule(svc))
		r.Post("/rules/{rule_id}/test", handlers.TestParsingRule(svc))

		// Allocation
		r.Post("/allocations/fifo", handlers.AllocateFIFO(svc))
		r.Post("/allocations/optimize", handlers.OptimizeAllocation(svc))

		// Partitions
		r.Get("/records/{source_id}/{record_id}/partitions", handlers.GetPartitions(svc))
		r.Put("/records/{source_id}/{record_id}/partitions", handlers.ReplacePartitions(svc))
		r.Delete("/records/{source_id}/{record_id}/partitions", handlers.ClearPartitions(svc))

		// Consolidated view
		r.Get("/transactions", handlers.GetTransactions(svc))
		r.Get("/rates/convert", handlers.ConvertAmount(svc))

		// Admin
		r.With(middleware.AdminMiddleware(authEnabled)).Group(func(r chi.Router) {
			r.Post("/admin/cache/clear/{cache_name}", handlers.ClearCache())
		})
	})

	return r
}
