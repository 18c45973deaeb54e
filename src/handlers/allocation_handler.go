package handlers

import (
	"net/http"

	"recon-server/src/middleware"
	"recon-server/src/service"
)

func AllocateFIFO(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.AllocationRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		out, err := svc.AllocateFIFO(r.Context(), req)
		if err != nil {
			respondError(w, r, err, "allocate fifo")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, out)
	}
}

func OptimizeAllocation(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.AllocationRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		if req.MaxNodes < 0 {
			middleware.WriteError(w, http.StatusBadRequest, "max_nodes must not be negative")
			return
		}
		out, err := svc.OptimizeAllocation(r.Context(), req)
		if err != nil {
			respondError(w, r, err, "optimize allocation")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, out)
	}
}
