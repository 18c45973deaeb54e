package classifier

import (
	"regexp"
	"strings"

	"recon-server/src/models"
)

var (
	paymentIDPattern = regexp.MustCompile(`(?i)\b[0-9a-f]{6}_[0-9a-f]{2}_[0-9a-f]{6}\b`)
	salaryKeyPattern = regexp.MustCompile(`(?i)\bNP_[0-9a-f]{6}_NJ_[0-9a-f]{6}_PRL[0-9]{6}\b`)
	salaryKeyExact   = regexp.MustCompile(`(?i)^NP_[0-9a-f]{6}_NJ_[0-9a-f]{6}_PRL[0-9]{6}$`)
)

// Obligations indexes payments and salary accruals for lookup by the ids
// that appear in bank descriptions.
type Obligations struct {
	byID       map[string]models.Obligation
	salaryKeys map[string]models.Obligation
	duplicates map[string]struct{}
}

// NewObligations builds the index. An id seen more than once across both
// dictionaries lands in the duplicate index and never resolves.
func NewObligations(payments []models.Payment, salaries []models.SalaryAccrual) *Obligations {
	o := &Obligations{
		byID:       make(map[string]models.Obligation, len(payments)),
		salaryKeys: make(map[string]models.Obligation, len(salaries)),
		duplicates: make(map[string]struct{}),
	}
	seen := make(map[string]int, len(payments)+len(salaries))
	for _, p := range payments {
		id := normalizeID(p.ID)
		seen[id]++
		o.byID[id] = p.Obligation()
	}
	for _, s := range salaries {
		id := normalizeID(s.PaymentID)
		seen[id]++
		o.salaryKeys[id] = s.Obligation()
	}
	for id, n := range seen {
		if n > 1 {
			o.duplicates[id] = struct{}{}
		}
	}
	return o
}

// Lookup resolves an obligation id, reporting whether it is a duplicate.
func (o *Obligations) Lookup(id string) (ob models.Obligation, found bool, duplicate bool) {
	id = normalizeID(id)
	if _, dup := o.duplicates[id]; dup {
		return models.Obligation{}, false, true
	}
	if ob, ok := o.byID[id]; ok {
		return ob, true, false
	}
	if ob, ok := o.salaryKeys[id]; ok {
		return ob, true, false
	}
	return models.Obligation{}, false, false
}

// All returns every resolvable obligation keyed by id.
func (o *Obligations) All() map[string]models.Obligation {
	all := make(map[string]models.Obligation, len(o.byID)+len(o.salaryKeys))
	for id, ob := range o.byID {
		all[id] = ob
	}
	for id, ob := range o.salaryKeys {
		all[id] = ob
	}
	for id := range o.duplicates {
		delete(all, id)
	}
	return all
}

// ExtractObligationIDs returns candidate ids embedded in free text, salary
// keys first, in order of appearance.
func ExtractObligationIDs(text string) []string {
	var ids []string
	for _, m := range salaryKeyPattern.FindAllString(text, -1) {
		ids = append(ids, normalizeID(m))
	}
	for _, m := range paymentIDPattern.FindAllString(text, -1) {
		ids = append(ids, normalizeID(m))
	}
	return ids
}

// Salary keys keep their upper-case markers; hex parts are lower-cased.
func normalizeID(id string) string {
	id = strings.TrimSpace(id)
	if salaryKeyExact.MatchString(id) {
		return "NP_" + strings.ToLower(id[3:9]) + "_NJ_" + strings.ToLower(id[13:19]) + "_PRL" + id[23:]
	}
	return strings.ToLower(id)
}
