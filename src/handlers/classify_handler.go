package handlers

import (
	"net/http"

	"recon-server/src/middleware"
	"recon-server/src/service"
)

func Classify(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req service.ClassifyRequest
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		res, err := svc.Classify(r.Context(), req)
		if err != nil {
			respondError(w, r, err, "classify records")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, res)
	}
}
