package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"recon-server/src/db/memory"
	"recon-server/src/models"
	"recon-server/src/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	p1 = "aaaaaa_01_aaaaaa"
	p2 = "bbbbbb_02_bbbbbb"
)

func day(m time.Month, n int) time.Time { return time.Date(2024, m, n, 0, 0, 0, 0, time.UTC) }

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRouter(t *testing.T) (*chi.Mux, *memory.Store) {
	t.Helper()
	store := memory.New()
	store.AddSourceTables(models.SourceTable{ID: 1, SchemeID: 1, BankName: "TBC", AccountNumber: "GE00TB0000000000000001", Currency: "GEL"})
	store.AddCounteragents(models.Counteragent{ID: "ca-landlord", Name: "Landlord LLC", TaxID: "204000001"})
	store.AddPayments(
		models.Payment{ID: p1, CounteragentID: "ca-landlord", FinancialCodeID: "fc-rent", CurrencyCode: "GEL",
			Ledger: []models.LedgerEntry{{PaymentID: p1, EffectiveDate: day(1, 10), Accrual: d("120")}}},
		models.Payment{ID: p2, CounteragentID: "ca-landlord", FinancialCodeID: "fc-rent", CurrencyCode: "GEL",
			Ledger: []models.LedgerEntry{{PaymentID: p2, EffectiveDate: day(1, 20), Accrual: d("300"), Order: d("50")}}},
	)
	store.AddExchangeRates(models.ExchangeRateRow{Date: day(2, 1), Rates: map[string]decimal.Decimal{"USD": d("2.5")}})
	store.AddRawRecords(
		models.RawRecord{ID: 1, SourceID: 1, AccountCurrency: "GEL", TransactionDate: day(2, 1),
			Debit: d("300"), Credit: decimal.Zero, Description: "rent january and february", BeneficiaryTaxID: "204000001"},
		models.RawRecord{ID: 2, SourceID: 1, AccountCurrency: "GEL", TransactionDate: day(2, 2),
			Debit: decimal.Zero, Credit: d("15"), Description: "interest"},
	)
	svc := service.New(store, service.Options{ChunkSize: 10, Workers: 2, SampleSize: 5}, zerolog.Nop())

	r := chi.NewRouter()
	r.Post("/api/classify", Classify(svc))
	r.Get("/api/rules", GetAllParsingRules(svc))
	r.Post("/api/rules", CreateParsingRule(svc))
	r.Post("/api/rules/validate", ValidateParsingRule())
	r.Get("/api/rules/{rule_id}", GetParsingRuleByID(svc))
	r.Put("/api/rules/{rule_id}", UpdateParsingRule(svc))
	r.Delete("/api/rules/{rule_id}", DeleteParsingRule(svc))
	r.Post("/api/rules/{rule_id}/test", TestParsingRule(svc))
	r.Post("/api/allocations/fifo", AllocateFIFO(svc))
	r.Post("/api/allocations/optimize", OptimizeAllocation(svc))
	r.Get("/api/records/{source_id}/{record_id}/partitions", GetPartitions(svc))
	r.Put("/api/records/{source_id}/{record_id}/partitions", ReplacePartitions(svc))
	r.Delete("/api/records/{source_id}/{record_id}/partitions", ClearPartitions(svc))
	r.Get("/api/transactions", GetTransactions(svc))
	r.Get("/api/rates/convert", ConvertAmount(svc))
	r.Post("/api/admin/cache/clear/{cache_name}", ClearCache())
	return r, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestParsingRuleLifecycle(t *testing.T) {
	h, store := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/rules", `{"scheme_id": 1, "name": "interest", "expression": "description contains \"interest\"", "counteragent_id": "ca-bank"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.ParsingRule](t, rec)
	require.NotZero(t, created.ID)
	path := "/api/rules/" + jsonNumber(created.ID)

	rec = do(t, h, http.MethodGet, path, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/rules?scheme_id=1", "")
	assert.Len(t, decodeBody[[]models.ParsingRule](t, rec), 1)
	rec = do(t, h, http.MethodGet, "/api/rules?scheme_id=2", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = do(t, h, http.MethodPost, path+"/test", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[service.TestRuleResult](t, rec)
	assert.Equal(t, 1, res.MatchCount)
	assert.Zero(t, res.AppliedCount)

	rec = do(t, h, http.MethodPost, path+"/test?apply=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[service.TestRuleResult](t, rec).AppliedCount)
	got, _ := store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 2})
	assert.Equal(t, "ca-bank", got.CounteragentID)

	rec = do(t, h, http.MethodPut, path, `{"scheme_id": 1, "name": "interest", "expression": "debit >"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, path, `{"scheme_id": 1, "name": "interest", "expression": "credit > 10"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "credit > 10", decodeBody[models.ParsingRule](t, rec).Expression)

	rec = do(t, h, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodGet, path, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func jsonNumber(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestCreateParsingRule_Rejects(t *testing.T) {
	h, _ := newTestRouter(t)

	for _, body := range []string{
		`not json`,
		`{"scheme_id": 1, "name": "", "expression": "debit > 1"}`,
		`{"scheme_id": 1, "name": "x", "expression": "debit > 1", "currency_code": "DOLLARS"}`,
		`{"name": "x", "expression": "debit > 1"}`,
	} {
		rec := do(t, h, http.MethodPost, "/api/rules", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := do(t, h, http.MethodGet, "/api/rules/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateParsingRule(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/rules/validate", `{"expression": "Description startswith \"SAL\""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, `Description startswith "SAL"`, body["normalized"])

	rec = do(t, h, http.MethodPost, "/api/rules/validate", `{"expression": "debit >"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody[map[string]any](t, rec)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["error"])
}

func TestClassify(t *testing.T) {
	h, store := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/classify", `{"scheme_id": 1, "dry_run": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[service.ClassifyResult](t, rec)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.Scanned)
	assert.Equal(t, 1, res.Matched)
	assert.Zero(t, res.Updated)

	rec = do(t, h, http.MethodPost, "/api/classify", `{"scheme_id": 1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decodeBody[service.ClassifyResult](t, rec).Updated)
	got, err := store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 1})
	require.NoError(t, err)
	assert.Equal(t, "ca-landlord", got.CounteragentID)
	got, err = store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 2})
	require.NoError(t, err)
	assert.Equal(t, "counteragent INN blank", got.Case)

	rec = do(t, h, http.MethodPost, "/api/classify", `{"scheme_id": 99}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllocateFIFO(t *testing.T) {
	h, store := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/allocations/fifo", `{"obligation_ids": ["`+p1+`", "`+p2+`"], "transaction_keys": ["r:1:1"], "apply": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[service.FIFOOutcome](t, rec)
	assert.True(t, out.Applied)
	require.Len(t, out.Batches, 1)
	require.Len(t, out.UnallocatedObligations, 1)
	assert.Equal(t, "70", out.UnallocatedObligations[0].Remaining.String())

	got, _ := store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 1})
	assert.True(t, got.Locked)

	rec = do(t, h, http.MethodGet, "/api/records/1/1/partitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]models.BatchPartition](t, rec), 2)

	// a locked record cannot be allocated again
	rec = do(t, h, http.MethodPost, "/api/allocations/fifo", `{"obligation_ids": ["`+p2+`"], "transaction_keys": ["r:1:1"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAllocate_BadRequests(t *testing.T) {
	h, _ := newTestRouter(t)

	cases := map[string]string{
		"empty":              `{"transaction_keys": ["r:1:1"]}`,
		"unknown obligation": `{"obligation_ids": ["ffffff_ff_ffffff"], "transaction_keys": ["r:1:1"]}`,
		"unknown record":     `{"obligation_ids": ["` + p1 + `"], "transaction_keys": ["r:1:999"]}`,
		"partition key":      `{"obligation_ids": ["` + p1 + `"], "transaction_keys": ["p:1:1"]}`,
		"garbage key":        `{"obligation_ids": ["` + p1 + `"], "transaction_keys": ["nope"]}`,
		"not json":           `{`,
	}
	for name, body := range cases {
		rec := do(t, h, http.MethodPost, "/api/allocations/fifo", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec := do(t, h, http.MethodPost, "/api/allocations/optimize", `{"obligation_ids": ["`+p1+`"], "transaction_keys": ["r:1:1"], "max_nodes": -1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOptimizeAllocation(t *testing.T) {
	h, store := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/allocations/optimize", `{"obligation_ids": ["`+p1+`", "`+p2+`"], "transaction_keys": ["r:1:1"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decodeBody[service.OptimizeOutcome](t, rec)
	require.Len(t, out.Assignments, 1)
	assert.Equal(t, p2, out.Assignments[0].ObligationID)
	assert.False(t, out.Applied)

	got, _ := store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 1})
	assert.Empty(t, got.ObligationID)
}

func TestPartitionsCycle(t *testing.T) {
	h, store := newTestRouter(t)
	path := "/api/records/1/2/partitions"

	rec := do(t, h, http.MethodPut, path, `{"partitions": [{"obligation_id": "`+p1+`", "account_amount": "10"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPut, path, `{"partitions": [{"obligation_id": "`+p1+`", "account_amount": "10"}, {"unassigned": true, "account_amount": "5"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decodeBody[[]models.BatchPartition](t, rec), 2)

	got, _ := store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 2})
	assert.True(t, got.Locked)

	rec = do(t, h, http.MethodGet, "/api/transactions?source_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]map[string]any](t, rec), 3)

	rec = do(t, h, http.MethodDelete, path, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	got, _ = store.GetRawRecord(context.Background(), models.RecordKey{SourceID: 1, RecordID: 2})
	assert.False(t, got.Locked)

	rec = do(t, h, http.MethodGet, "/api/records/1/404/partitions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/records/x/1/partitions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTransactions(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/transactions?from=2024-02-02&to=2024-02-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeBody[[]map[string]any](t, rec)
	require.Len(t, txs, 1)
	assert.Equal(t, "interest", txs[0]["description"])

	rec = do(t, h, http.MethodGet, "/api/transactions?from=2024-03-01", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	for _, q := range []string{"from=02/02/2024", "to=x", "source_id=1,a", "from=2024-02-02&to=2024-02-01"} {
		rec = do(t, h, http.MethodGet, "/api/transactions?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestConvertAmount(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/rates/convert?amount=10&from=usd&to=GEL&date=2024-02-01", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "25", body["amount"])

	rec = do(t, h, http.MethodGet, "/api/rates/convert?amount=10&from=USD&to=GEL&date=2024-03-01", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/rates/convert?amount=ten&from=USD&to=GEL", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/rates/convert?amount=10&from=US&to=GEL", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClearCache(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/admin/cache/clear/all", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/admin/cache/clear/users", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
