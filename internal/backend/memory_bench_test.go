package backend

import (
	"fmt"
	"math/rand"
	"testing"
)

// BenchmarkMemory measures the raw performance of the memory backend at
// transfer sizes representative of small random I/O through large
// sequential transfers.
func BenchmarkMemory(b *testing.B) {
	sizes := []int{
		4 * 1024,
		128 * 1024,
		1024 * 1024,
	}

	for _, size := range sizes {
		b.Run(formatSize(size), func(b *testing.B) {
			be := NewMemory(64 << 20)
			data := make([]byte, size)
			rand.Read(data)

			b.Run("WriteAt", func(b *testing.B) {
				b.SetBytes(int64(size))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					offset := int64(rand.Intn(64<<20 - size))
					_, _ = be.WriteAt(data, offset)
				}
			})

			b.Run("ReadAt", func(b *testing.B) {
				buf := make([]byte, size)
				b.SetBytes(int64(size))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					offset := int64(rand.Intn(64<<20 - size))
					_, _ = be.ReadAt(buf, offset)
				}
			})
		})
	}
}

func formatSize(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%dMB", n/(1024*1024))
	case n >= 1024:
		return fmt.Sprintf("%dKB", n/1024)
	default:
		return fmt.Sprintf("%dB", n)
	}
}
