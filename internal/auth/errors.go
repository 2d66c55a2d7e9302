// Package auth manages the Google OAuth2 token lifecycle for invoicescout:
// the persisted credential store with serialized refresh, and the one-shot
// loopback authorization flow that obtains the initial token set.
package auth

import "errors"

var (
	// ErrReauthorizationRequired means no usable refresh token exists or the
	// refresh exchange was rejected. The user must run `invoicescout auth`.
	ErrReauthorizationRequired = errors.New("reauthorization required")
	// ErrPortInUse means the callback listener could not bind its port.
	ErrPortInUse = errors.New("callback port already in use")
	// ErrStateMismatch means the callback carried a state value this flow did not issue.
	ErrStateMismatch = errors.New("authorization state mismatch")
	// ErrAuthorizationTimeout means no callback arrived before the deadline.
	ErrAuthorizationTimeout = errors.New("timed out waiting for authorization")
	// ErrAuthorizationDenied means the provider redirected back with an error.
	ErrAuthorizationDenied = errors.New("authorization denied")
)
