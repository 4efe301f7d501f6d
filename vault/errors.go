package vault

import "errors"

var (
	ErrWrongPIN       = errors.New("wrong pin")
	ErrVaultLocked    = errors.New("vault is locked")
	ErrNotFound       = errors.New("secret not found")
	ErrCooldownActive = errors.New("cooldown active after failed unlock attempts")
	ErrInvalidPIN     = errors.New("pin must be numeric and 5-6 digits long")
)
