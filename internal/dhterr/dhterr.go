// Package dhterr defines the sentinel error kinds shared by the ECRS
// codec and DHT manager: IO, Corrupted, Protocol, Full, NotFound and
// Invalid. Callers wrap these with fmt.Errorf("...: %w", ErrX) and
// unwrap with errors.Is.
package dhterr

import "errors"

var (
	// ErrCorrupted signals archive validation or AEAD tag failure.
	// Propagate; never partially write outputs after this.
	ErrCorrupted = errors.New("corrupted")

	// ErrProtocol signals a malformed datagram, a wrong message type
	// for the context, or an unsolicited response. The datagram is
	// dropped, never propagated to a caller blocked on a reply.
	ErrProtocol = errors.New("protocol violation")

	// ErrFull is not an error condition; it is the control signal a
	// bucket insert returns when the bucket is saturated and liveness
	// probing of its occupants must run before admission.
	ErrFull = errors.New("bucket full")

	// ErrNotFound is a normal KV-store miss; it triggers a remote
	// lookup, not an abort.
	ErrNotFound = errors.New("not found")

	// ErrInvalid signals a caller precondition violation (non-file
	// path, zero-length data, wrong key size). Fatal to the operation.
	ErrInvalid = errors.New("invalid argument")
)
