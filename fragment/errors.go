package fragment

import "errors"

// ErrInvalidPolicy indicates a fragmentation policy that was rejected
// before any work began (bad n/k, empty secret, non-positive expiry).
var ErrInvalidPolicy = errors.New("invalid fragmentation policy")
