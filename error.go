package btslice

import "github.com/cockroachdb/errors"

var (
	ErrClosed           = errors.New("closed")
	ErrBusy             = errors.New("busy")
	ErrReadOnly         = errors.New("read-only")
	ErrCorrupt          = errors.New("corrupt")
	ErrBadChecksum      = errors.New("bad checksum")
	ErrOutOfRange       = errors.New("out of range")
	ErrUnknownMagicCode = errors.New("unknown magic code")
	ErrInvalidBlockSize = errors.New("invalid block size")
	ErrTxDone           = errors.New("transaction already finished")
	ErrLocksHeld        = errors.New("locks held at commit")
	ErrUnsorted         = errors.New("keys not sorted")
	ErrKeyTooLarge      = errors.New("key too large")
	ErrValueTooLarge    = errors.New("value too large")
)

// Corruptf reports a violated on-disk structural invariant. The returned error
// is an assertion failure that wraps ErrCorrupt.
func Corruptf(format string, args ...any) error {
	return errors.WithAssertionFailure(errors.Wrapf(ErrCorrupt, format, args...))
}

// IsCorrupt reports whether err is a structural corruption failure.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorrupt)
}

// MarkCorrupt reports err, met while reading a structure that must be
// readable, as a structural corruption failure. The cause stays visible to
// errors.Is.
func MarkCorrupt(err error, format string, args ...any) error {
	return errors.WithAssertionFailure(errors.Wrapf(errors.Mark(err, ErrCorrupt), format, args...))
}
