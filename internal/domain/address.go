package domain

import "errors"

var ErrAddressNotFound = errors.New("address not found")

// AddAddress appends addr to the user. The first address always becomes the
// default, and a new default address clears the flag on the others.
func (u *User) AddAddress(addr Address) {
	if len(u.Addresses) == 0 {
		addr.IsDefault = true
	}
	if addr.IsDefault {
		u.clearDefault()
	}
	u.Addresses = append(u.Addresses, addr)
}

// NormalizeAddresses rebuilds the address list through AddAddress so that a
// non-empty list has exactly one default. The last address flagged default
// wins.
func (u *User) NormalizeAddresses() {
	given := u.Addresses
	u.Addresses = make([]Address, 0, len(given))
	for _, addr := range given {
		u.AddAddress(addr)
	}
}

func (u *User) SetDefaultAddress(addressID string) error {
	idx := u.addressIndex(addressID)
	if idx < 0 {
		return ErrAddressNotFound
	}
	u.clearDefault()
	u.Addresses[idx].IsDefault = true
	return nil
}

// RemoveAddress deletes an address. When the default one goes away the first
// remaining address is promoted.
func (u *User) RemoveAddress(addressID string) error {
	idx := u.addressIndex(addressID)
	if idx < 0 {
		return ErrAddressNotFound
	}
	wasDefault := u.Addresses[idx].IsDefault
	u.Addresses = append(u.Addresses[:idx], u.Addresses[idx+1:]...)
	if wasDefault && len(u.Addresses) > 0 {
		u.Addresses[0].IsDefault = true
	}
	return nil
}

func (u *User) DefaultAddress() (Address, bool) {
	for _, addr := range u.Addresses {
		if addr.IsDefault {
			return addr, true
		}
	}
	return Address{}, false
}

func (u *User) clearDefault() {
	for i := range u.Addresses {
		u.Addresses[i].IsDefault = false
	}
}

func (u *User) addressIndex(addressID string) int {
	for i, addr := range u.Addresses {
		if addr.ID == addressID {
			return i
		}
	}
	return -1
}
