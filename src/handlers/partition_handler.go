package handlers

import (
	"net/http"
	"strconv"

	"recon-server/src/logger"
	"recon-server/src/middleware"
	"recon-server/src/models"
	"recon-server/src/service"

	"github.com/go-chi/chi/v5"
)

func recordKey(r *http.Request) (models.RecordKey, bool) {
	sourceID, err := strconv.Atoi(chi.URLParam(r, "source_id"))
	if err != nil || sourceID <= 0 {
		return models.RecordKey{}, false
	}
	recordID, err := strconv.ParseInt(chi.URLParam(r, "record_id"), 10, 64)
	if err != nil || recordID <= 0 {
		return models.RecordKey{}, false
	}
	return models.RecordKey{SourceID: sourceID, RecordID: recordID}, true
}

func GetPartitions(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := recordKey(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid record key")
			return
		}
		parts, err := svc.ListPartitions(r.Context(), key)
		if err != nil {
			respondError(w, r, err, "get partitions")
			return
		}
		if parts == nil {
			parts = []models.BatchPartition{}
		}
		middleware.WriteJSON(w, http.StatusOK, parts)
	}
}

// ReplacePartitions swaps the record's partition set and locks the record.
func ReplacePartitions(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := recordKey(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid record key")
			return
		}
		var req struct {
			Partitions []models.BatchPartition `json:"partitions"`
		}
		if err := decode(w, r, &req); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid request")
			return
		}
		stored, err := svc.ReplacePartitions(r.Context(), key, req.Partitions)
		if err != nil {
			respondError(w, r, err, "replace partitions")
			return
		}
		log := logger.FromContext(r.Context())
		log.Info().Str("record", key.String()).Int("partitions", len(stored)).Msg("replaced partitions")
		middleware.WriteJSON(w, http.StatusOK, stored)
	}
}

// ClearPartitions removes every partition and unlocks the record.
func ClearPartitions(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, ok := recordKey(r)
		if !ok {
			middleware.WriteError(w, http.StatusBadRequest, "invalid record key")
			return
		}
		if err := svc.ClearPartitions(r.Context(), key); err != nil {
			respondError(w, r, err, "clear partitions")
			return
		}
		log := logger.FromContext(r.Context())
		log.Info().Str("record", key.String()).Msg("cleared partitions")
		w.WriteHeader(http.StatusNoContent)
	}
}
