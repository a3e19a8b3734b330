package proof

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// DigestSize is the size of a proof digest in bytes.
	DigestSize = 32

	// maxDeviceIDLen is the maximum accepted device identifier length.
	maxDeviceIDLen = 100

	// fieldSeparator separates canonical fields before hashing.
	// A control byte that cannot appear in validated field values,
	// preventing ambiguity between adjacent fields.
	fieldSeparator = "\x1f"
)

// ErrValidation is returned when an input field is empty or out of range.
var ErrValidation = errors.New("invalid proof input")

// Method identifies the sanitization method of an operation.
type Method string

// Sanitization methods, following NIST 800-88 terminology.
const (
	MethodClear   Method = "clear"
	MethodPurge   Method = "purge"
	MethodDestroy Method = "destroy"
)

// Valid reports whether the method is a known sanitization method.
func (m Method) Valid() bool {
	switch m {
	case MethodClear, MethodPurge, MethodDestroy:
		return true
	}
	return false
}

// Digest is a fixed-length cryptographic commitment to operation metadata.
type Digest [DigestSize]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is all zero bytes.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest decodes a 64-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	b, err := hex.DecodeString(s)
	if err != nil || len(b) != DigestSize {
		return Digest{}, fmt.Errorf("%w: digest must be %d hex characters", ErrValidation, DigestSize*2)
	}

	var d Digest
	copy(d[:], b)

	return d, nil
}

// Input holds the metadata of a completed operation to be committed.
// Immutable once constructed; all fields are required except
// VerificationData.
type Input struct {
	DeviceID         string    // DeviceID is the stable device identifier
	Method           Method    // Method is the sanitization method used
	Passes           int       // Passes is the number of overwrite passes completed
	StartTime        time.Time // StartTime is when the operation began
	EndTime          time.Time // EndTime is when the operation finished
	Operator         string    // Operator is the identity that ran the operation
	VerificationData string    // VerificationData is free-form verification metadata
}

// Validate checks all required fields against their contracts.
func (in Input) Validate() error {
	if in.DeviceID == "" {
		return fmt.Errorf("%w: device id is empty", ErrValidation)
	}
	if len(in.DeviceID) > maxDeviceIDLen {
		return fmt.Errorf("%w: device id exceeds %d characters", ErrValidation, maxDeviceIDLen)
	}
	if strings.Contains(in.DeviceID, fieldSeparator) {
		return fmt.Errorf("%w: device id contains control characters", ErrValidation)
	}
	if !in.Method.Valid() {
		return fmt.Errorf("%w: unknown method %q", ErrValidation, string(in.Method))
	}
	if in.Passes < 0 {
		return fmt.Errorf("%w: negative pass count %d", ErrValidation, in.Passes)
	}
	if in.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is zero", ErrValidation)
	}
	if in.EndTime.Before(in.StartTime) {
		return fmt.Errorf("%w: end time precedes start time", ErrValidation)
	}
	if in.Operator == "" {
		return fmt.Errorf("%w: operator is empty", ErrValidation)
	}
	if strings.Contains(in.Operator, fieldSeparator) {
		return fmt.Errorf("%w: operator contains control characters", ErrValidation)
	}
	if strings.Contains(in.VerificationData, fieldSeparator) {
		return fmt.Errorf("%w: verification data contains control characters", ErrValidation)
	}

	return nil
}

// ComputeDigest builds the canonical byte encoding of the input and
// hashes it once with blake3.
//
// The canonical form concatenates fields in a fixed order with explicit
// separators; timestamps are rendered in UTC RFC 3339 so the encoding
// never depends on machine locale or zone. Identical inputs always
// yield identical digests.
func ComputeDigest(in Input) (Digest, error) {
	if err := in.Validate(); err != nil {
		return Digest{}, err
	}

	return blake3.Sum256([]byte(canonicalEncoding(in))), nil
}

// canonicalEncoding renders the input fields in contract order.
// Field order is fixed and must never change: it defines the digest.
func canonicalEncoding(in Input) string {
	fields := []string{
		in.DeviceID,
		in.StartTime.UTC().Format(time.RFC3339),
		in.EndTime.UTC().Format(time.RFC3339),
		string(in.Method),
		strconv.Itoa(in.Passes),
		in.Operator,
		in.VerificationData,
	}

	return strings.Join(fields, fieldSeparator)
}

// VerifyDigest recomputes the digest for the input and compares it to
// the expected value. Returns false on any validation failure.
func VerifyDigest(in Input, expected Digest) bool {
	d, err := ComputeDigest(in)
	if err != nil {
		return false
	}

	return d == expected
}
