// Package cryptocore wraps the two primitives spec.md §4.2 calls for:
// ChaCha20-Poly1305 AEAD with a fresh random 12-byte IV per
// encryption, and the SHA3-256/SHA3-512 hash family used to derive
// convergent encryption keys and ciphertext query hashes.
//
// Unlike the teacher's AES-GCM backend, golang.org/x/crypto/chacha20poly1305
// already selects its own optimized assembly internally, so this
// package carries no AES-NI/AVX2 backend-selection logic (see
// DESIGN.md for why that part of the teacher was not ported). It
// keeps the teacher's pooled-buffer and Wipe() idioms.
package cryptocore

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"

	"github.com/d42ejh/ilnyaplus-dev/internal/cpudetection"
	"github.com/d42ejh/ilnyaplus-dev/internal/dhterr"
	"github.com/d42ejh/ilnyaplus-dev/internal/memprotect"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// init logs the detected CPU features once at process startup. This
// package's AEAD (chacha20poly1305) dispatches its own assembly and
// ignores the result, but the detector still earns its keep as a
// diagnostic breadcrumb in support logs — see DESIGN.md.
func init() {
	tlog.Debug.Printf("cryptocore: %s", cpudetection.New())
}

// KeySize is the ChaCha20-Poly1305 key size and the convergent
// encryption key size (a SHA3-256 digest).
const KeySize = 32

// IVSize is the AEAD nonce size.
const IVSize = chacha20poly1305.NonceSize // 12

// QuerySize is the SHA3-512 digest size used as the DHT lookup key.
const QuerySize = 64

// bufPool recycles ciphertext/plaintext scratch buffers across many
// small block encrypt/decrypt calls, mirroring the teacher's bPool.
var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, chk32KiBHint)
		return &b
	},
}

// chk32KiBHint sizes the pool for the common DBlock case; IBlocks and
// the final short DBlock simply grow the slice on demand.
const chk32KiBHint = 32*1024 + 64

func getBuf(capHint int) []byte {
	p := bufPool.Get().(*[]byte)
	if cap(*p) < capHint {
		*p = make([]byte, 0, capHint)
	}
	return (*p)[:0]
}

func putBuf(b []byte) {
	bufPool.Put(&b)
}

// DoubleHashKey computes SHA3-256(SHA3-512(plaintext)), the
// convergent encryption key derived from a block's plaintext
// serialization.
func DoubleHashKey(plaintext []byte) [KeySize]byte {
	inner := sha3.Sum512(plaintext)
	return sha3.Sum256(inner[:])
}

// QueryHash computes SHA3-512(ciphertext), the self-verifying DHT
// lookup key.
func QueryHash(ciphertext []byte) [QuerySize]byte {
	return sha3.Sum512(ciphertext)
}

// RandomIV draws a fresh random 12-byte AEAD nonce.
func RandomIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return iv, fmt.Errorf("cryptocore: read random iv: %w", err)
	}
	return iv, nil
}

// Seal encrypts plaintext under key/iv with no additional data,
// matching spec.md §4.2: encryption failures are programmer error and
// are returned as plain errors rather than a dhterr sentinel (the
// AEAD only fails to seal on misuse, e.g. a bad key length).
func Seal(key [KeySize]byte, iv [IVSize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptocore: new aead: %w", err)
	}
	dst := getBuf(len(plaintext) + aead.Overhead())
	defer putBuf(dst)
	sealed := aead.Seal(dst, iv[:], plaintext, nil)
	out := make([]byte, len(sealed))
	copy(out, sealed)
	return out, nil
}

// Open decrypts ciphertext under key/iv. A tag mismatch surfaces as
// dhterr.ErrCorrupted per spec.md §4.2/§7.
func Open(key [KeySize]byte, iv [IVSize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("cryptocore: new aead: %w", err)
	}
	dst := getBuf(len(ciphertext))
	defer putBuf(dst)
	plain, err := aead.Open(dst, iv[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: aead open: %w: %w", err, dhterr.ErrCorrupted)
	}
	out := make([]byte, len(plain))
	copy(out, plain)
	return out, nil
}

// Overhead returns the AEAD's authentication tag size.
func Overhead() int {
	return chacha20poly1305.Overhead
}

// WipeKey zeroes a key buffer in place, using memprotect's secure
// zeroing so the key material doesn't linger in process memory longer
// than necessary.
func WipeKey(key *[KeySize]byte) {
	memprotect.SecureZero(key[:])
}
