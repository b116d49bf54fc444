package xmsg

import "github.com/google/uuid"

// Address uniquely identifies an endpoint for the lifetime of the process.
// Addresses are comparable; two addresses are equal iff bit-identical.
type Address struct {
	id uuid.UUID
}

// NilAddress is the reserved "no sender / no recipient" value.
var NilAddress = Address{}

// NewAddress generates a fresh process-unique address.
func NewAddress() Address {
	return Address{id: uuid.New()}
}

// IsValid reports whether the address is not the nil address.
func (a Address) IsValid() bool { return a.id != uuid.Nil }

func (a Address) String() string { return a.id.String() }
