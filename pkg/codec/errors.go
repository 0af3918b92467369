package codec

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every typed error below unwraps to one of these so callers
// can branch with errors.Is and still reach the details with errors.As.
var (
	ErrShape              = errors.New("snapshot shape mismatch")
	ErrBadTag             = errors.New("bad packet tag")
	ErrUnsupportedVersion = errors.New("unsupported packet format version")
	ErrTruncated          = errors.New("packet truncated")
	ErrValueRange         = errors.New("value out of range")
	ErrIntegrity          = errors.New("blob checksum mismatch")
	ErrCorruption         = errors.New("blob corrupted")
)

// ShapeError reports a snapshot or header whose bed/parameter layout does not
// match the configured tables.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%v: %s", ErrShape, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrShape }

// FormatReason distinguishes the two ways a packet header can be rejected.
type FormatReason int

const (
	BadTag FormatReason = iota
	UnsupportedVersion
)

// FormatError reports an unknown tag or version. Decoders never guess a layout.
type FormatError struct {
	Reason  FormatReason
	Tag     []byte
	Version uint8
}

func (e *FormatError) Error() string {
	if e.Reason == BadTag {
		return fmt.Sprintf("%v: %q", ErrBadTag, e.Tag)
	}
	return fmt.Sprintf("%v: %d", ErrUnsupportedVersion, e.Version)
}

func (e *FormatError) Unwrap() error {
	if e.Reason == BadTag {
		return ErrBadTag
	}
	return ErrUnsupportedVersion
}

// TruncationError reports fewer bytes than the header requires.
type TruncationError struct {
	Need int
	Have int
}

func (e *TruncationError) Error() string {
	return fmt.Sprintf("%v: need %d bytes, have %d", ErrTruncated, e.Need, e.Have)
}

func (e *TruncationError) Unwrap() error { return ErrTruncated }

// RangeError reports a reading that cannot be quantized into an int32 field.
type RangeError struct {
	Bed   string
	Param string
	Value float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%v: %s/%s=%v", ErrValueRange, e.Bed, e.Param, e.Value)
}

func (e *RangeError) Unwrap() error { return ErrValueRange }

// IntegrityError reports a checksum mismatch after successful decompression.
// On the optical link this is the expected symptom of channel noise.
type IntegrityError struct {
	Expected uint32
	Actual   uint32
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%v: expected=%08X actual=%08X", ErrIntegrity, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error { return ErrIntegrity }

// CorruptionError reports a blob that could not be parsed or decompressed.
type CorruptionError struct {
	Reason string
	Err    error
}

func (e *CorruptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", ErrCorruption, e.Reason, e.Err)
	}
	return fmt.Sprintf("%v: %s", ErrCorruption, e.Reason)
}

func (e *CorruptionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrCorruption, e.Err}
	}
	return []error{ErrCorruption}
}
