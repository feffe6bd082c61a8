package timelock

import "errors"

// ErrTrapdoorDestroyed indicates the instant decryption path is gone; the
// puzzle can now only be opened by sequential computation.
var ErrTrapdoorDestroyed = errors.New("trapdoor destroyed")
