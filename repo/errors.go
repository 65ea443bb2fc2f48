package repo

import "errors"

var (
	ErrTableNotFound = errors.New("repo: table not found")
	ErrFieldNotFound = errors.New("repo: field not found")
	ErrKindMismatch  = errors.New("repo: value kind mismatch")
	ErrTableExists   = errors.New("repo: table already exists")
	ErrNotLoaded     = errors.New("repo: repository not loaded")
	ErrOutOfRange    = errors.New("repo: entity index out of range")
)
