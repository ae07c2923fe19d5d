package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInvalidRole           = errors.New("invalid role")
	ErrInvalidStatus         = errors.New("invalid lead status")
	ErrInvalidCallStatus     = errors.New("invalid call status")
	ErrUnauthenticated       = errors.New("no identity in context")
	ErrConstraintInstall     = errors.New("constraint installation failed: table still holds violating rows")
	ErrInsufficientPrivilege = errors.New("insufficient privilege")
)
