// Package speed benchmarks the crypto primitive this node actually
// uses, in the spirit of the teacher's "-speed" CLI option (itself
// modeled on "openssl speed") — re-themed from the teacher's
// multi-backend AES-GCM/AES-SIV/XChaCha20 comparison (none of which
// this module carries) down to the single AEAD internal/cryptocore
// wraps, ChaCha20-Poly1305. Run go test -bench=. ./internal/speed for
// the actual measurements; Run prints the same summary outside of
// `go test`.
package speed

import (
	"fmt"
	"testing"

	"github.com/d42ejh/ilnyaplus-dev/internal/chk"
)

// blockSize is the plaintext size a DBlock seals, the same size the
// teacher's speed package benchmarks its own fixed-size blocks at.
const blockSize = chk.DBlockSize

// Run benchmarks Seal/Open at the DBlock size and prints throughput,
// the non-`go test` entry point a future CLI front-end could call.
func Run() {
	sealResult := testing.Benchmark(BenchmarkSeal)
	openResult := testing.Benchmark(BenchmarkOpen)
	fmt.Printf("%-28s%7.2f MB/s\n", "ChaCha20-Poly1305 (seal)", mbPerSec(sealResult))
	fmt.Printf("%-28s%7.2f MB/s\n", "ChaCha20-Poly1305 (open)", mbPerSec(openResult))
}

func mbPerSec(r testing.BenchmarkResult) float64 {
	if r.Bytes <= 0 || r.T <= 0 || r.N <= 0 {
		return 0
	}
	return (float64(r.Bytes) * float64(r.N) / 1e6) / r.T.Seconds()
}
