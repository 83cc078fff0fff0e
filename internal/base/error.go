package base

import "errors"

var (
	ErrInvalidMagicNumber = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported format version")
	ErrInvalidChecksum    = errors.New("meta checksum mismatch")
	ErrInvalidMeta        = errors.New("invalid meta record")
)
