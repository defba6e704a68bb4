package dapi

import (
	"sort"
)

// AffectedItems is the payload shape for operations acting on a set of
// items, such as restarting or removing agents. Fan-out merges of this
// shape concatenate the item lists and sum the totals.
type AffectedItems struct {
	AffectedItems      []any        `json:"affected_items"`
	TotalAffectedItems int          `json:"total_affected_items"`
	FailedItems        []FailedItem `json:"failed_items"`
	TotalFailedItems   int          `json:"total_failed_items"`
	Message            string       `json:"message,omitempty"`
}

// FailedItem groups the item ids that failed with the same error.
type FailedItem struct {
	Error ErrorDetail `json:"error"`
	IDs   []string    `json:"id"`
}

// NewAffectedItems returns an empty result ready to be filled.
func NewAffectedItems(message string) *AffectedItems {
	return &AffectedItems{
		AffectedItems: []any{},
		FailedItems:   []FailedItem{},
		Message:       message,
	}
}

// AddAffected records items processed successfully.
func (a *AffectedItems) AddAffected(items ...any) {
	a.AffectedItems = append(a.AffectedItems, items...)
	a.TotalAffectedItems += len(items)
}

// AddFailed records that id failed with err. Failures sharing an error
// code and message are grouped together.
func (a *AffectedItems) AddFailed(id string, err error) {
	detail := DetailFromError(err, ErrCodeLocalExecution)
	if detail == nil {
		return
	}
	a.TotalFailedItems++
	for i := range a.FailedItems {
		existing := a.FailedItems[i].Error
		if existing.Code == detail.Code && existing.Message == detail.Message {
			a.FailedItems[i].IDs = append(a.FailedItems[i].IDs, id)
			sort.Strings(a.FailedItems[i].IDs)
			return
		}
	}
	a.FailedItems = append(a.FailedItems, FailedItem{
		Error: ErrorDetail{Code: detail.Code, Message: detail.Message},
		IDs:   []string{id},
	})
}

// Merge folds other into a.
func (a *AffectedItems) Merge(other AffectedItems) {
	a.AffectedItems = append(a.AffectedItems, other.AffectedItems...)
	a.TotalAffectedItems += other.TotalAffectedItems
	for _, f := range other.FailedItems {
		merged := false
		for i := range a.FailedItems {
			if a.FailedItems[i].Error.Code == f.Error.Code && a.FailedItems[i].Error.Message == f.Error.Message {
				a.FailedItems[i].IDs = append(a.FailedItems[i].IDs, f.IDs...)
				sort.Strings(a.FailedItems[i].IDs)
				merged = true
				break
			}
		}
		if !merged {
			a.FailedItems = append(a.FailedItems, FailedItem{Error: f.Error, IDs: append([]string(nil), f.IDs...)})
		}
	}
	a.TotalFailedItems += other.TotalFailedItems
	if a.Message == "" {
		a.Message = other.Message
	}
}
