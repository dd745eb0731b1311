package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleEntries() []Entry {
	return []Entry{
		{
			ID: Identifier{Kind: "profile", Shard: "a", Seq: 1},
			Record: Record{
				Owner: "o1", Username: "alice99", DisplayName: "Alice", FirstName: "Alice", LastName: "Liddell",
				Email: "alice@example.com", City: "Oxford", StateOrProvince: "Oxfordshire", Country: "UK",
				Skills: []uint32{1, 2}, Interests: []uint32{7}, CreatedOn: 100, UpdatedOn: 150,
			},
		},
		{
			ID: Identifier{Kind: "profile", Shard: "a", Seq: 2},
			Record: Record{
				Owner: "o2", Username: "bob", DisplayName: "Bobby", FirstName: "Robert", LastName: "Tables",
				Email: "bob@example.org", City: "Portland", StateOrProvince: "Oregon", Country: "USA",
				Skills: []uint32{2}, Causes: []uint32{4}, CreatedOn: 200, UpdatedOn: 200,
			},
		},
		{
			ID: Identifier{Kind: "profile", Shard: "b", Seq: 1},
			Record: Record{
				Owner: "o3", Username: "carol", DisplayName: "Carol", FirstName: "Carol", LastName: "Danvers",
				Email: "carol@example.com", City: "Portland", StateOrProvince: "Maine", Country: "USA",
				Interests: []uint32{7, 8}, CreatedOn: 300, UpdatedOn: 400,
			},
		},
	}
}

func seqs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID.String()
	}
	return out
}

func TestApplyFilters(t *testing.T) {
	entries := sampleEntries()
	tests := []struct {
		name    string
		filters []Filter
		want    []string
	}{
		{"no filters keeps all", nil, []string{"profile:a:1", "profile:a:2", "profile:b:1"}},
		{"username substring", []Filter{UsernameContains("ali")}, []string{"profile:a:1"}},
		{"email domain", []Filter{EmailContains("example.com")}, []string{"profile:a:1", "profile:b:1"}},
		{"city and country", []Filter{CityContains("Portland"), CountryContains("USA")}, []string{"profile:a:2", "profile:b:1"}},
		{"state is exact", []Filter{StateOrProvinceIs("Oregon")}, []string{"profile:a:2"}},
		{"state substring does not match", []Filter{StateOrProvinceIs("Ore")}, []string{}},
		{"skill membership", []Filter{HasSkill(2)}, []string{"profile:a:1", "profile:a:2"}},
		{"interest membership", []Filter{HasInterest(8)}, []string{"profile:b:1"}},
		{"cause membership", []Filter{HasCause(4)}, []string{"profile:a:2"}},
		{"created range inclusive", []Filter{CreatedBetween(100, 200)}, []string{"profile:a:1", "profile:a:2"}},
		{"updated range", []Filter{UpdatedBetween(300, 500)}, []string{"profile:b:1"}},
		{"conjunction", []Filter{CityContains("Portland"), HasSkill(2)}, []string{"profile:a:2"}},
		{"display and names", []Filter{DisplayNameContains("Bob"), FirstNameContains("Rob"), LastNameContains("Tab")}, []string{"profile:a:2"}},
		{"nothing matches", []Filter{UsernameContains("zed")}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, seqs(Apply(entries, tt.filters)))
		})
	}
}

func TestFilterValidate(t *testing.T) {
	assert.NoError(t, ValidateFilters([]Filter{UsernameContains("a"), CreatedBetween(1, 1)}))
	assert.Error(t, Filter{Kind: "shoe_size"}.Validate())
	assert.Error(t, UpdatedBetween(10, 1).Validate())
	assert.False(t, Filter{Kind: "shoe_size"}.Match(&Record{}))
}
