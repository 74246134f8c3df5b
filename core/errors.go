package core

import "errors"

var (
	ErrNotLinked         = errors.New("wallet is not linked")
	ErrUnauthorized      = errors.New("session rejected")
	ErrTokenExpired      = errors.New("token has expired")
	ErrInvalidAssertion  = errors.New("invalid identity assertion")
	ErrInvalidAddress    = errors.New("invalid wallet address")
	ErrNoWallet          = errors.New("no wallet connected")
	ErrMalformedResponse = errors.New("malformed backend response")
	ErrBackendFailure    = errors.New("backend request failed")
	ErrMountPointMissing = errors.New("widget mount point not found")
	ErrNoCallback        = errors.New("no identity callback registered")
	ErrNotActive         = errors.New("linker is not active")
	ErrInFlight          = errors.New("request already in flight")
	ErrKeyNotFound       = errors.New("key not found")
	ErrInvalidRequest    = errors.New("invalid request")
)
