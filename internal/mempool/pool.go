// Package mempool recycles the large per-pixel buffers used while warping and
// blending calibration images.
package mempool

import (
	"sync"
)

const classStep = 1024

// sizeClass rounds n up to the next multiple of 1024 (minimum 1024).
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

// sizedPool keeps one sync.Pool per size class.
type sizedPool[T any] struct {
	pools sync.Map // size class -> *sync.Pool
}

func (p *sizedPool[T]) pool(cls int) *sync.Pool {
	if v, ok := p.pools.Load(cls); ok {
		return v.(*sync.Pool) //nolint:forcetypeassert
	}
	v, _ := p.pools.LoadOrStore(cls, &sync.Pool{New: func() any {
		buf := make([]T, cls)
		return &buf
	}})
	return v.(*sync.Pool) //nolint:forcetypeassert
}

func (p *sizedPool[T]) get(n int) []T {
	cls := sizeClass(n)
	bufp, ok := p.pool(cls).Get().(*[]T)
	if !ok || cap(*bufp) < cls {
		buf := make([]T, cls)
		bufp = &buf
	}
	return (*bufp)[:max(n, 0)]
}

func (p *sizedPool[T]) put(buf []T) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	if cap(full) < classStep || cap(full)%classStep != 0 {
		return
	}
	p.pool(cap(full)).Put(&full)
}

var (
	float32Pool sizedPool[float32]
	boolPool    sizedPool[bool]
)

// GetFloat32 returns a buffer of length n. Its contents are unspecified.
// Return it with PutFloat32 when done.
func GetFloat32(n int) []float32 {
	return float32Pool.get(n)
}

// GetFloat32Zeroed returns a zero-filled buffer of length n.
func GetFloat32Zeroed(n int) []float32 {
	buf := float32Pool.get(n)
	clear(buf)
	return buf
}

// PutFloat32 returns a buffer to the pool. It is safe to pass a nil slice.
func PutFloat32(buf []float32) {
	float32Pool.put(buf)
}

// GetBool returns an all-false buffer of length n.
// Return it with PutBool when done.
func GetBool(n int) []bool {
	buf := boolPool.get(n)
	clear(buf)
	return buf
}

// PutBool returns a buffer to the pool. It is safe to pass a nil slice.
func PutBool(buf []bool) {
	boolPool.put(buf)
}
