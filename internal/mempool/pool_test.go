package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{"small size gets minimum", 1, 1024},
		{"exactly 1024", 1024, 1024},
		{"just over 1024", 1025, 2048},
		{"odd number", 1500, 2048},
		{"large size", 10000, 10240},
		{"zero size", 0, 1024},
		{"negative size", -1, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetFloat32(t *testing.T) {
	for _, n := range []int{0, 100, 1024, 5000} {
		buf := GetFloat32(n)
		assert.Len(t, buf, n)
		assert.GreaterOrEqual(t, cap(buf), n)
		PutFloat32(buf)
	}
	PutFloat32(nil)
	PutFloat32(make([]float32, 3))
}

func TestGetFloat32Zeroed_ClearsReusedBuffers(t *testing.T) {
	buf := GetFloat32(3000)
	for i := range buf {
		buf[i] = 7
	}
	PutFloat32(buf)

	for range 4 {
		z := GetFloat32Zeroed(3000)
		require.Len(t, z, 3000)
		for _, v := range z {
			require.Zero(t, v)
		}
		PutFloat32(z)
	}
}

func TestGetBool_ClearsReusedBuffers(t *testing.T) {
	buf := GetBool(2000)
	for i := range buf {
		buf[i] = true
	}
	PutBool(buf)

	again := GetBool(2000)
	require.Len(t, again, 2000)
	for _, v := range again {
		require.False(t, v)
	}
	PutBool(again)
	PutBool(nil)
}

func TestConcurrentAccess(t *testing.T) {
	const goroutines = 32
	var wg sync.WaitGroup
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				acc := GetFloat32Zeroed(3 * 64 * 48)
				weight := GetFloat32Zeroed(64 * 48)
				mask := GetBool(64 * 48)
				for i := range weight {
					weight[i] = float32(g)
					acc[3*i] += weight[i]
					mask[i] = true
				}
				PutBool(mask)
				PutFloat32(weight)
				PutFloat32(acc)
			}
		}()
	}
	wg.Wait()
}
