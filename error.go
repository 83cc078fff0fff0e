package grovekv

import (
	"errors"

	"grovekv/internal/base"
)

var (
	ErrKeyNotFound    = errors.New("key not found")
	ErrDatabaseClosed = errors.New("database is closed")
	ErrKeyEmpty       = errors.New("key cannot be empty")

	ErrInvalidMagicNumber = base.ErrInvalidMagicNumber
	ErrInvalidVersion     = base.ErrInvalidVersion
	ErrInvalidChecksum    = base.ErrInvalidChecksum
	ErrInvalidMeta        = base.ErrInvalidMeta
)
