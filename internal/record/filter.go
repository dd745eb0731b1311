package record

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/strata/internal/apierr"
)

// FilterKind names one filter variant.
type FilterKind string

const (
	FilterUsername        FilterKind = "username"
	FilterDisplayName     FilterKind = "display_name"
	FilterFirstName       FilterKind = "first_name"
	FilterLastName        FilterKind = "last_name"
	FilterEmail           FilterKind = "email"
	FilterCity            FilterKind = "city"
	FilterStateOrProvince FilterKind = "state_or_province"
	FilterCountry         FilterKind = "country"
	FilterSkill           FilterKind = "skill"
	FilterInterest        FilterKind = "interest"
	FilterCause           FilterKind = "cause"
	FilterCreatedOn       FilterKind = "created_on"
	FilterUpdatedOn       FilterKind = "updated_on"
)

// TimeRange is an inclusive [Start, End] range of timestamps.
type TimeRange struct {
	Start uint64 `json:"start" cbor:"start"`
	End   uint64 `json:"end" cbor:"end"`
}

// Contains reports whether ts lies within the range.
func (r TimeRange) Contains(ts uint64) bool {
	return ts >= r.Start && ts <= r.End
}

// Filter is one predicate. Which payload field is meaningful depends on
// Kind: Text for the string variants, Number for the set-membership
// variants, Range for the timestamp variants.
type Filter struct {
	Kind   FilterKind `json:"kind" cbor:"kind"`
	Text   string     `json:"text,omitempty" cbor:"text,omitempty"`
	Number uint32     `json:"number,omitempty" cbor:"number,omitempty"`
	Range  TimeRange  `json:"range,omitempty" cbor:"range,omitempty"`
}

func contains(field func(*Record) string) func(Filter, *Record) bool {
	return func(f Filter, r *Record) bool {
		return strings.Contains(field(r), f.Text)
	}
}

func member(field func(*Record) []uint32) func(Filter, *Record) bool {
	return func(f Filter, r *Record) bool {
		return slices.Contains(field(r), f.Number)
	}
}

func within(field func(*Record) uint64) func(Filter, *Record) bool {
	return func(f Filter, r *Record) bool {
		return f.Range.Contains(field(r))
	}
}

var matchers = map[FilterKind]func(Filter, *Record) bool{
	FilterUsername:    contains(func(r *Record) string { return r.Username }),
	FilterDisplayName: contains(func(r *Record) string { return r.DisplayName }),
	FilterFirstName:   contains(func(r *Record) string { return r.FirstName }),
	FilterLastName:    contains(func(r *Record) string { return r.LastName }),
	FilterEmail:       contains(func(r *Record) string { return r.Email }),
	FilterCity:        contains(func(r *Record) string { return r.City }),
	FilterCountry:     contains(func(r *Record) string { return r.Country }),
	// state or province matches exactly, not as a substring
	FilterStateOrProvince: func(f Filter, r *Record) bool { return r.StateOrProvince == f.Text },
	FilterSkill:           member(func(r *Record) []uint32 { return r.Skills }),
	FilterInterest:        member(func(r *Record) []uint32 { return r.Interests }),
	FilterCause:           member(func(r *Record) []uint32 { return r.Causes }),
	FilterCreatedOn:       within(func(r *Record) uint64 { return r.CreatedOn }),
	FilterUpdatedOn:       within(func(r *Record) uint64 { return r.UpdatedOn }),
}

// Match reports whether r satisfies f. Unknown kinds never match.
func (f Filter) Match(r *Record) bool {
	m, ok := matchers[f.Kind]
	if !ok {
		return false
	}
	return m(f, r)
}

// Validate rejects unknown filter kinds and inverted ranges.
func (f Filter) Validate() error {
	if _, ok := matchers[f.Kind]; !ok {
		return apierr.New(apierr.KindValidation, "UNKNOWN_FILTER",
			fmt.Sprintf("filter kind %q is not supported", f.Kind), "", "filter")
	}
	if (f.Kind == FilterCreatedOn || f.Kind == FilterUpdatedOn) && f.Range.Start > f.Range.End {
		return apierr.New(apierr.KindValidation, "INVALID_RANGE",
			fmt.Sprintf("range start %d is after end %d", f.Range.Start, f.Range.End), "", "filter")
	}
	return nil
}

// ValidateFilters validates every filter in order.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Apply keeps the entries that satisfy every filter. Order is preserved.
func Apply(entries []Entry, filters []Filter) []Entry {
	out := make([]Entry, 0, len(entries))
	for i := range entries {
		keep := true
		for _, f := range filters {
			if !f.Match(&entries[i].Record) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, entries[i])
		}
	}
	return out
}

// Text filter constructors.
func UsernameContains(s string) Filter    { return Filter{Kind: FilterUsername, Text: s} }
func DisplayNameContains(s string) Filter { return Filter{Kind: FilterDisplayName, Text: s} }
func FirstNameContains(s string) Filter   { return Filter{Kind: FilterFirstName, Text: s} }
func LastNameContains(s string) Filter    { return Filter{Kind: FilterLastName, Text: s} }
func EmailContains(s string) Filter       { return Filter{Kind: FilterEmail, Text: s} }
func CityContains(s string) Filter        { return Filter{Kind: FilterCity, Text: s} }
func CountryContains(s string) Filter     { return Filter{Kind: FilterCountry, Text: s} }
func StateOrProvinceIs(s string) Filter   { return Filter{Kind: FilterStateOrProvince, Text: s} }

// Set membership constructors.
func HasSkill(n uint32) Filter    { return Filter{Kind: FilterSkill, Number: n} }
func HasInterest(n uint32) Filter { return Filter{Kind: FilterInterest, Number: n} }
func HasCause(n uint32) Filter    { return Filter{Kind: FilterCause, Number: n} }

// Range constructors.
func CreatedBetween(start, end uint64) Filter {
	return Filter{Kind: FilterCreatedOn, Range: TimeRange{Start: start, End: end}}
}

func UpdatedBetween(start, end uint64) Filter {
	return Filter{Kind: FilterUpdatedOn, Range: TimeRange{Start: start, End: end}}
}
