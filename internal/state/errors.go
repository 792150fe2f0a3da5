package state

import "fmt"

// ErrStateMismatch is the validation-mode failure for any invariant
// violation that is block-fatal rather than merely tx-fatal (spec §4.B
// "Failure modes").
var ErrStateMismatch = fmt.Errorf("state: mismatch")

// ErrTokenAlreadyUpdated signals a token was already created or touched
// earlier in the same block (spec §4.B "a token must not be created twice
// in one block").
var ErrTokenAlreadyUpdated = fmt.Errorf("state: token already updated this block")

// ErrParamsAlreadyChanged signals networkParams was already mutated earlier
// in the same block (spec §4.B "networkParams may be changed at most once
// per block").
var ErrParamsAlreadyChanged = fmt.Errorf("state: network params already changed this block")

// ErrNoRollbackInValidationMode is returned by RevertToSnapshot when called
// on a WorldState opened in validation mode, which keeps no undo journal
// (spec §4.B).
var ErrNoRollbackInValidationMode = fmt.Errorf("state: revert_to_snapshot unsupported in validation mode")
