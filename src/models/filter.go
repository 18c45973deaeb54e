package models

import "time"

// RecordFilter selects raw records. Zero fields do not filter.
type RecordFilter struct {
	SourceIDs    []int
	From         *time.Time
	To           *time.Time
	UnlockedOnly bool
	AfterID      int64
	Limit        int
}

// Includes reports whether rec passes every set criterion except paging.
func (f RecordFilter) Includes(rec RawRecord) bool {
	if len(f.SourceIDs) > 0 {
		found := false
		for _, id := range f.SourceIDs {
			if id == rec.SourceID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.UnlockedOnly && rec.Locked {
		return false
	}
	if f.From != nil && rec.TransactionDate.Before(*f.From) {
		return false
	}
	if f.To != nil && rec.TransactionDate.After(*f.To) {
		return false
	}
	return rec.ID > f.AfterID
}
