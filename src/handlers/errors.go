package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"recon-server/src/allocation"
	"recon-server/src/consolidated"
	"recon-server/src/currency"
	"recon-server/src/logger"
	"recon-server/src/middleware"
	"recon-server/src/models"
	"recon-server/src/partition"
	"recon-server/src/rules"
	"recon-server/src/service"
)

const maxBodyBytes = 4 << 20

func statusFor(err error) int {
	var syntaxErr *rules.SyntaxError
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrRecordBusy), errors.Is(err, models.ErrRecordLocked):
		return http.StatusConflict
	case errors.Is(err, allocation.ErrInfeasible), errors.Is(err, currency.ErrRateUnavailable):
		return http.StatusUnprocessableEntity
	case errors.As(err, &syntaxErr),
		errors.Is(err, rules.ErrEmptyRule),
		errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrMissingObligation),
		errors.Is(err, service.ErrUnknownRecord),
		errors.Is(err, consolidated.ErrKeyRange),
		errors.Is(err, allocation.ErrEmptySelection),
		errors.Is(err, allocation.ErrNonPositiveTarget),
		errors.Is(err, allocation.ErrMissingID),
		errors.Is(err, allocation.ErrDuplicate),
		errors.Is(err, allocation.ErrMultiCurrency),
		errors.Is(err, partition.ErrNoPartitions),
		errors.Is(err, partition.ErrPartitionSum),
		errors.Is(err, partition.ErrPartitionUntagged),
		errors.Is(err, partition.ErrPartitionSign):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError maps err to a status. Server errors are logged with the
// action and answered with a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error, action string) {
	log := logger.FromContext(r.Context())
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msgf("failed to %s", action)
		middleware.WriteError(w, status, "failed to "+action)
		return
	}
	log.Warn().Err(err).Int("status", status).Msgf("rejected %s", action)
	middleware.WriteError(w, status, err.Error())
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
