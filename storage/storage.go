// Package storage defines the contract between the engine and whatever
// holds fragment ciphertext. The engine never assumes a particular
// backing medium; it only requires that a location can be written, read,
// overwritten with pseudorandom data and deallocated.
//
// Overwrite is best-effort on media with wear-leveling, where a logical
// write may not reach the physical cells. The engine's primary guarantee
// therefore rests on trapdoor destruction; SecureOverwrite is
// defense-in-depth.
package storage

import "errors"

// ErrNotFound is returned for operations on an unknown location.
var ErrNotFound = errors.New("location not found")

// Store is the fragment ciphertext storage contract.
type Store interface {
	// Write stores data at the given location, replacing any previous
	// contents.
	Write(location string, data []byte) error
	// Read returns the contents of a location.
	Read(location string) ([]byte, error)
	// SecureOverwrite replaces the contents of a location with the given
	// number of passes of pseudorandom data, leaving the location
	// allocated. It fails with ErrNotFound for an unknown location.
	SecureOverwrite(location string, passes int) error
	// Delete deallocates a location. Deleting an unknown location fails
	// with ErrNotFound.
	Delete(location string) error
}
