package handlers

import (
	"net/http"
	"time"

	"recon-server/src/consolidated"
	"recon-server/src/middleware"
	"recon-server/src/service"
	"recon-server/src/util"

	"github.com/shopspring/decimal"
)

// GetTransactions serves the consolidated view. Query: from, to
// (YYYY-MM-DD, inclusive) and source_id (comma separated).
func GetTransactions(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err := util.ParseDate(q.Get("from"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid from date")
			return
		}
		to, err := util.ParseDate(q.Get("to"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid to date")
			return
		}
		sourceIDs, err := util.ParseIntList(q.Get("source_id"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid source id")
			return
		}

		txs, err := svc.ConsolidatedView(r.Context(), service.Window{From: from, To: to, SourceIDs: sourceIDs})
		if err != nil {
			respondError(w, r, err, "get transactions")
			return
		}
		if txs == nil {
			txs = []consolidated.Transaction{}
		}
		middleware.WriteJSON(w, http.StatusOK, txs)
	}
}

// ConvertAmount converts ?amount= from one currency to another on ?date=
// (today when omitted).
func ConvertAmount(svc *service.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		amount, err := decimal.NewFromString(q.Get("amount"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		from, to := q.Get("from"), q.Get("to")
		if !util.ValidateCurrencyCode(from) || !util.ValidateCurrencyCode(to) {
			middleware.WriteError(w, http.StatusBadRequest, "invalid currency code")
			return
		}
		date, err := util.ParseDate(q.Get("date"))
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "invalid date")
			return
		}
		on := time.Now().UTC().Truncate(24 * time.Hour)
		if date != nil {
			on = *date
		}

		converted, err := svc.Convert(r.Context(), amount, from, to, on)
		if err != nil {
			respondError(w, r, err, "convert amount")
			return
		}
		middleware.WriteJSON(w, http.StatusOK, map[string]any{
			"amount":    converted,
			"currency":  to,
			"rate_date": on.Format(util.DateLayout),
		})
	}
}
