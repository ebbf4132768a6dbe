package tcf

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid TCF magic")
	ErrUnsupportedMajor = errors.New("unsupported TCF major version")
	ErrUnsupportedIndex = errors.New("unsupported TCF tensor index version")
	ErrCorruptFile      = errors.New("corrupt TCF file")
)
