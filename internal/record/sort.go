package record

import (
	"cmp"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/apierr"
)

// SortKey names the field results are ordered by.
type SortKey string

const (
	SortUsername        SortKey = "username"
	SortDisplayName     SortKey = "display_name"
	SortFirstName       SortKey = "first_name"
	SortLastName        SortKey = "last_name"
	SortEmail           SortKey = "email"
	SortCity            SortKey = "city"
	SortStateOrProvince SortKey = "state_or_province"
	SortCountry         SortKey = "country"
	SortCreatedOn       SortKey = "created_on"
	SortUpdatedOn       SortKey = "updated_on"
)

// Direction is ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is a single key and direction.
type Sort struct {
	Key       SortKey   `json:"key"`
	Direction Direction `json:"direction"`
}

func byString(field func(*Record) string) func(a, b *Record) int {
	return func(a, b *Record) int { return cmp.Compare(field(a), field(b)) }
}

func byTime(field func(*Record) uint64) func(a, b *Record) int {
	return func(a, b *Record) int { return cmp.Compare(field(a), field(b)) }
}

var comparators = map[SortKey]func(a, b *Record) int{
	SortUsername:        byString(func(r *Record) string { return r.Username }),
	SortDisplayName:     byString(func(r *Record) string { return r.DisplayName }),
	SortFirstName:       byString(func(r *Record) string { return r.FirstName }),
	SortLastName:        byString(func(r *Record) string { return r.LastName }),
	SortEmail:           byString(func(r *Record) string { return r.Email }),
	SortCity:            byString(func(r *Record) string { return r.City }),
	SortStateOrProvince: byString(func(r *Record) string { return r.StateOrProvince }),
	SortCountry:         byString(func(r *Record) string { return r.Country }),
	SortCreatedOn:       byTime(func(r *Record) uint64 { return r.CreatedOn }),
	SortUpdatedOn:       byTime(func(r *Record) uint64 { return r.UpdatedOn }),
}

// Validate rejects unknown keys and directions.
func (s Sort) Validate() error {
	if _, ok := comparators[s.Key]; !ok {
		return apierr.New(apierr.KindValidation, "UNKNOWN_SORT",
			fmt.Sprintf("sort key %q is not supported", s.Key), "", "sort")
	}
	if s.Direction != Asc && s.Direction != Desc {
		return apierr.New(apierr.KindValidation, "UNKNOWN_DIRECTION",
			fmt.Sprintf("sort direction %q is not asc or desc", s.Direction), "", "sort")
	}
	return nil
}

// Apply sorts entries in place. The sort is stable: entries comparing
// equal keep their relative order in both directions.
func (s Sort) Apply(entries []Entry) {
	compare, ok := comparators[s.Key]
	if !ok {
		return
	}
	if s.Direction == Desc {
		slices.SortStableFunc(entries, func(a, b Entry) int { return compare(&b.Record, &a.Record) })
		return
	}
	slices.SortStableFunc(entries, func(a, b Entry) int { return compare(&a.Record, &b.Record) })
}
