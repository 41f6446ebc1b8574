package voice

import (
	"errors"
	"fmt"
)

// Kind classifies fatal load errors so the host can pick user-facing text.
type Kind int

const (
	KindUnknown Kind = iota
	PackUnavailable
	CorruptRuleBase
	UnsupportedVersion
)

func (k Kind) String() string {
	switch k {
	case PackUnavailable:
		return "pack-unavailable"
	case CorruptRuleBase:
		return "corrupt-rule-base"
	case UnsupportedVersion:
		return "unsupported-version"
	default:
		return "unknown"
	}
}

var (
	ErrPackUnavailable    = errors.New("voice data unavailable")
	ErrCorruptRuleBase    = errors.New("voice data corrupted")
	ErrUnsupportedVersion = errors.New("voice data not supported")
)

func (k Kind) sentinel() error {
	switch k {
	case PackUnavailable:
		return ErrPackUnavailable
	case CorruptRuleBase:
		return ErrCorruptRuleBase
	case UnsupportedVersion:
		return ErrUnsupportedVersion
	default:
		return nil
	}
}

// PackError reports why a voice pack could not be used.
type PackError struct {
	Kind Kind
	Pack string
	Err  error
}

func newPackError(kind Kind, pack string, err error) *PackError {
	return &PackError{Kind: kind, Pack: pack, Err: err}
}

func (e *PackError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("voice pack %q: %s", e.Pack, e.Kind)
	}
	return fmt.Sprintf("voice pack %q: %s: %v", e.Pack, e.Kind, e.Err)
}

func (e *PackError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *PackError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var pe *PackError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	switch {
	case errors.Is(err, ErrPackUnavailable):
		return PackUnavailable
	case errors.Is(err, ErrCorruptRuleBase):
		return CorruptRuleBase
	case errors.Is(err, ErrUnsupportedVersion):
		return UnsupportedVersion
	}
	return KindUnknown
}
