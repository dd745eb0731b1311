// Package record defines the values stored in shards and the closed set of
// filters and sort keys that queries may use over them.
package record

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dreamware/strata/internal/apierr"
)

// Record is a domain value owned by one external principal. The named
// fields are the ones queries can filter and sort on; Data carries the rest
// of the domain value untouched.
type Record struct {
	Owner           string   `json:"owner" cbor:"owner"`
	Username        string   `json:"username" cbor:"username"`
	DisplayName     string   `json:"display_name" cbor:"display_name"`
	FirstName       string   `json:"first_name" cbor:"first_name"`
	LastName        string   `json:"last_name" cbor:"last_name"`
	Email           string   `json:"email" cbor:"email"`
	City            string   `json:"city" cbor:"city"`
	StateOrProvince string   `json:"state_or_province" cbor:"state_or_province"`
	Country         string   `json:"country" cbor:"country"`
	Skills          []uint32 `json:"skills,omitempty" cbor:"skills,omitempty"`
	Interests       []uint32 `json:"interests,omitempty" cbor:"interests,omitempty"`
	Causes          []uint32 `json:"causes,omitempty" cbor:"causes,omitempty"`
	CreatedOn       uint64   `json:"created_on" cbor:"created_on"`
	UpdatedOn       uint64   `json:"updated_on" cbor:"updated_on"`
	Data            []byte   `json:"data,omitempty" cbor:"data,omitempty"`
}

// Validate checks the structural requirements of a record. Field-level
// business validation belongs to the domain layer.
func (r Record) Validate() error {
	if strings.TrimSpace(r.Owner) == "" {
		return apierr.New(apierr.KindValidation, "OWNER_REQUIRED",
			"record must have an owning principal", "", "validate")
	}
	return nil
}

// Identifier keys a record: the kind tag, the address of the shard that
// allocated it and the shard-local sequence number.
type Identifier struct {
	Kind  string
	Shard string
	Seq   uint64
}

// String renders the identifier as kind:shard:seq.
func (id Identifier) String() string {
	return id.Kind + ":" + id.Shard + ":" + strconv.FormatUint(id.Seq, 10)
}

// IsZero reports whether id is unset.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// MarshalText implements encoding.TextMarshaler.
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentifier parses kind:shard:seq. The shard address may itself
// contain colons; the kind may not.
func ParseIdentifier(s string) (Identifier, error) {
	first := strings.Index(s, ":")
	last := strings.LastIndex(s, ":")
	if first <= 0 || last == first {
		return Identifier{}, invalidIdentifier(s)
	}
	seq, err := strconv.ParseUint(s[last+1:], 10, 64)
	if err != nil {
		return Identifier{}, invalidIdentifier(s)
	}
	shard := s[first+1 : last]
	if shard == "" {
		return Identifier{}, invalidIdentifier(s)
	}
	return Identifier{Kind: s[:first], Shard: shard, Seq: seq}, nil
}

// ValidKind reports whether tag can be used as an identifier kind.
func ValidKind(tag string) bool {
	return tag != "" && !strings.ContainsAny(tag, ": \t\n")
}

func invalidIdentifier(s string) error {
	return apierr.New(apierr.KindValidation, "INVALID_IDENTIFIER",
		fmt.Sprintf("%q is not a kind:shard:seq identifier", s), "", "parse_identifier")
}

// Entry is a stored record together with its identifier.
type Entry struct {
	ID     Identifier `json:"identifier" cbor:"identifier"`
	Record Record     `json:"record" cbor:"record"`
}
