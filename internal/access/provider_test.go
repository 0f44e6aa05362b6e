package access

import "testing"

func TestCapabilitySet(t *testing.T) {
	t.Parallel()

	set := Capabilities(CapSearchUsers)
	if !set.Has(CapSearchUsers) {
		t.Fatal("declared capability missing from set")
	}
	if set.Has(CapTestConnection) {
		t.Fatal("undeclared capability present in set")
	}

	var empty CapabilitySet
	if empty.Has(CapSearchUsers) || empty.Has(CapTestConnection) {
		t.Fatal("empty set must declare nothing")
	}

	full := Capabilities(CapSearchUsers, CapTestConnection)
	if !full.Has(CapSearchUsers) || !full.Has(CapTestConnection) {
		t.Fatal("combined set must declare both capabilities")
	}
}

func TestPostgresProviderDeclaresSearch(t *testing.T) {
	t.Parallel()

	p := NewPostgresProvider(nil)
	if !p.Capabilities().Has(CapSearchUsers) {
		t.Fatal("postgres provider must declare user search")
	}
	// The declared capability has to match the implemented interface.
	if _, ok := any(p).(UserSearcher); !ok {
		t.Fatal("postgres provider declares CapSearchUsers but does not implement UserSearcher")
	}
}
