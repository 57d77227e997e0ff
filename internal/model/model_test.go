package model

import "testing"

func TestOperatorID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"Staatsbosbeheer", "staatsbosbeheer"},
		{"  Natuurmonumenten ", "natuurmonumenten"},
		{"Office National des Forêts", "office-national-des-for-ts"},
		{"Parks & Wildlife", "parks-wildlife"},
		{"--", ""},
	}
	for _, tc := range cases {
		if got := OperatorID(tc.in); got != tc.want {
			t.Fatalf("OperatorID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFilterMatch(t *testing.T) {
	r := Reserve{
		ID:           "way_1",
		Source:       SourceOSM,
		AreaType:     AreaNatureReserve,
		ProtectClass: "4",
		Operators:    []string{"Staatsbosbeheer"},
	}

	cases := []struct {
		name string
		f    Filter
		want bool
	}{
		{"zero filter", Filter{}, true},
		{"source match", Filter{Source: SourceOSM}, true},
		{"source mismatch", Filter{Source: SourceWDPA}, false},
		{"operator match", Filter{Operator: "staatsbosbeheer"}, true},
		{"operator mismatch", Filter{Operator: "natuurmonumenten"}, false},
		{"area type match", Filter{AreaTypes: []string{AreaNationalPark, AreaNatureReserve}}, true},
		{"area type mismatch", Filter{AreaTypes: []string{AreaNationalPark}}, false},
		{"protect class match", Filter{ProtectClasses: []string{"4"}}, true},
		{"protect class mismatch", Filter{ProtectClasses: []string{"2"}}, false},
	}
	for _, tc := range cases {
		if got := tc.f.Match(r); got != tc.want {
			t.Fatalf("%s: Match = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterCanonical(t *testing.T) {
	f := Filter{
		Source:         SourceOSM,
		Operator:       "staatsbosbeheer",
		AreaTypes:      []string{AreaNatureReserve, AreaNationalPark},
		ProtectClasses: []string{"4", "1a"},
	}
	want := "src=osm&op=staatsbosbeheer&at=national_park,nature_reserve&pc=1a,4"
	if got := f.Canonical(); got != want {
		t.Fatalf("Canonical = %q, want %q", got, want)
	}

	// Order of list values must not matter.
	g := Filter{
		Source:         SourceOSM,
		Operator:       "staatsbosbeheer",
		AreaTypes:      []string{AreaNationalPark, AreaNatureReserve},
		ProtectClasses: []string{"1a", "4"},
	}
	if f.Canonical() != g.Canonical() {
		t.Fatalf("canonical form should not depend on list order")
	}

	if (Filter{}).Canonical() != "" {
		t.Fatalf("zero filter should canonicalize to the empty string")
	}
}
