package speed

import (
	"crypto/rand"
	"testing"

	"github.com/d42ejh/ilnyaplus-dev/internal/cryptocore"
)

func randBlock(b *testing.B) []byte {
	b.Helper()
	buf := make([]byte, blockSize)
	if _, err := rand.Read(buf); err != nil {
		b.Fatal(err)
	}
	return buf
}

// BenchmarkSeal measures this node's DBlock sealing throughput.
func BenchmarkSeal(b *testing.B) {
	plaintext := randBlock(b)
	key := cryptocore.DoubleHashKey(plaintext)
	iv, err := cryptocore.RandomIV()
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cryptocore.Seal(key, iv, plaintext); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkOpen measures this node's DBlock opening throughput.
func BenchmarkOpen(b *testing.B) {
	plaintext := randBlock(b)
	key := cryptocore.DoubleHashKey(plaintext)
	iv, err := cryptocore.RandomIV()
	if err != nil {
		b.Fatal(err)
	}
	ciphertext, err := cryptocore.Seal(key, iv, plaintext)
	if err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(plaintext)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cryptocore.Open(key, iv, ciphertext); err != nil {
			b.Fatal(err)
		}
	}
}

func TestRunPrintsWithoutPanicking(t *testing.T) {
	Run()
}
