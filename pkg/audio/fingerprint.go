// Package audio provides content fingerprinting and raw PCM/WAV helpers
// shared by the transcription pipeline, the review store, and the local
// fallback model.
package audio

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
)

// Fingerprint is a 128-bit content digest of raw audio bytes. Identical
// bytes always produce identical fingerprints, independent of filename or
// capture time. It is a map key and dedup handle, never a security
// primitive.
type Fingerprint [16]byte

// Hash computes the Fingerprint of data. Pure and deterministic.
func Hash(data []byte) Fingerprint {
	return Fingerprint(md5.Sum(data))
}

// HashReader buffers r fully and returns the Fingerprint of its contents.
func HashReader(r io.Reader) (Fingerprint, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("audio: read for fingerprint: %w", err)
	}
	return Hash(data), nil
}

// String returns the fingerprint as 32 lowercase hex characters.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Prefix returns the first n hex characters of the fingerprint, clamped to
// the full length. Used to derive human-scannable review item ids.
func (f Fingerprint) Prefix(n int) string {
	s := f.String()
	if n < 0 {
		n = 0
	}
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// IsZero reports whether f is the zero fingerprint.
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}

// ParseFingerprint parses a 32-character hex string back into a Fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	var f Fingerprint
	if len(s) != 2*len(f) {
		return Fingerprint{}, fmt.Errorf("audio: fingerprint must be %d hex chars, got %d", 2*len(f), len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("audio: parse fingerprint %q: %w", s, err)
	}
	copy(f[:], b)
	return f, nil
}

// MarshalText implements encoding.TextMarshaler so fingerprints render as
// hex in JSON metadata.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	parsed, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
