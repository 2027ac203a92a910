// Copyright (c) 2024 The tradenet developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package escrow

import "errors"

// TxVerificationError is returned when the disputed payout transaction
// cannot be constructed or does not validate against the escrow output.
// Callers treat it as fatal for the settlement attempt: a dispute whose
// deposit cannot produce a valid payout has nothing left to wait for.
type TxVerificationError struct {
	Description string
	Err         error
}

// Error satisfies the error interface.
func (e *TxVerificationError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e *TxVerificationError) Unwrap() error {
	return e.Err
}

// txVerificationError creates a TxVerificationError given a set of
// arguments.
func txVerificationError(desc string, err error) *TxVerificationError {
	return &TxVerificationError{Description: desc, Err: err}
}

// IsTxVerificationError reports whether err is, or wraps, a
// TxVerificationError.
func IsTxVerificationError(err error) bool {
	var e *TxVerificationError
	return errors.As(err, &e)
}
