package domain

import "testing"

func countDefaults(u User) int {
	n := 0
	for _, addr := range u.Addresses {
		if addr.IsDefault {
			n++
		}
	}
	return n
}

func TestAddressDefaultInvariant(t *testing.T) {
	var u User
	u.AddAddress(Address{ID: "home", Label: "Home"})
	if def, ok := u.DefaultAddress(); !ok || def.ID != "home" {
		t.Fatalf("first address should become default")
	}

	u.AddAddress(Address{ID: "office", Label: "Office"})
	if def, _ := u.DefaultAddress(); def.ID != "home" {
		t.Fatalf("adding a non-default address must keep the old default, got %s", def.ID)
	}

	u.AddAddress(Address{ID: "parents", Label: "Parents", IsDefault: true})
	if def, _ := u.DefaultAddress(); def.ID != "parents" {
		t.Fatalf("expected parents as default, got %s", def.ID)
	}
	if n := countDefaults(u); n != 1 {
		t.Fatalf("expected exactly one default, got %d", n)
	}

	if err := u.SetDefaultAddress("office"); err != nil {
		t.Fatalf("set default: %v", err)
	}
	if n := countDefaults(u); n != 1 {
		t.Fatalf("expected exactly one default, got %d", n)
	}

	if err := u.RemoveAddress("office"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if def, ok := u.DefaultAddress(); !ok || def.ID != "home" {
		t.Fatalf("removing the default should promote the first remaining address")
	}

	if err := u.SetDefaultAddress("missing"); err != ErrAddressNotFound {
		t.Fatalf("expected ErrAddressNotFound, got %v", err)
	}
}

func TestNormalizeAddresses(t *testing.T) {
	u := User{Addresses: []Address{
		{ID: "home", IsDefault: true},
		{ID: "office", IsDefault: true},
		{ID: "parents"},
	}}
	u.NormalizeAddresses()
	if n := countDefaults(u); n != 1 {
		t.Fatalf("expected exactly one default, got %d", n)
	}
	if def, _ := u.DefaultAddress(); def.ID != "office" {
		t.Fatalf("expected the last flagged address as default, got %s", def.ID)
	}
	if len(u.Addresses) != 3 {
		t.Fatalf("expected all addresses kept, got %d", len(u.Addresses))
	}

	none := User{Addresses: []Address{{ID: "home"}, {ID: "office"}}}
	none.NormalizeAddresses()
	if def, ok := none.DefaultAddress(); !ok || def.ID != "home" {
		t.Fatalf("first address should become default when none is flagged")
	}

	var empty User
	empty.NormalizeAddresses()
	if empty.Addresses == nil || len(empty.Addresses) != 0 {
		t.Fatalf("expected an empty non-nil list, got %v", empty.Addresses)
	}
}
