package models

// SourceTable is one imported bank account statement in a single currency.
type SourceTable struct {
	ID            int    `json:"id"`
	SchemeID      int64  `json:"scheme_id"`
	BankName      string `json:"bank_name"`
	AccountNumber string `json:"account_number"`
	Currency      string `json:"currency"`
}

type Counteragent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	TaxID string `json:"tax_id"`
}
