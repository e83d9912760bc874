package mgf

import "errors"

var (
	ErrInvalidMagic     = errors.New("invalid MGF magic")
	ErrUnsupportedMajor = errors.New("unsupported MGF major version")
	ErrCorruptFile      = errors.New("corrupt MGF file")
	ErrMissingSection   = errors.New("missing MGF section")
)
