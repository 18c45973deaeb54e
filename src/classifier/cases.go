package classifier

import "strings"

// Case is one step of the decision cascade that fired for a record.
type Case string

const (
	CaseCounteragentProcessed    Case = "counteragent processed"
	CaseCounteragentINNBlank     Case = "counteragent INN blank"
	CaseNoMatch                  Case = "no match"
	CaseObligationMatched        Case = "obligation matched"
	CaseObligationMismatch       Case = "obligation/counterparty mismatch"
	CaseDuplicateObligation      Case = "duplicate obligation id"
	CaseUnknownObligation        Case = "unknown obligation id"
	CaseRuleDominance            Case = "rule dominance"
	CaseRuleCounteragentMismatch Case = "rule/counterparty mismatch"
	CaseRateUnavailable          Case = "exchange rate unavailable"
	CaseLocked                   Case = "locked by batch"
)

const caseSeparator = "; "

// JoinCases renders cases into the diagnostic string stored on the record.
func JoinCases(cases []Case) string {
	parts := make([]string, len(cases))
	for i, c := range cases {
		parts[i] = string(c)
	}
	return strings.Join(parts, caseSeparator)
}

// IsConflict reports whether a case needs human review.
func IsConflict(c Case) bool {
	return c == CaseObligationMismatch || c == CaseRuleCounteragentMismatch || c == CaseDuplicateObligation
}
