//go:build !linux

package iobuf

import "errors"

// allocateShared is unsupported outside Linux; Pool.allocate falls back
// to anonymous mmap when this returns an error.
func allocateShared(length int) ([]byte, int, error) {
	return nil, -1, errors.New("iobuf: shared memory segments require linux")
}

func detachShared(mem []byte, _ int) error {
	return errors.New("iobuf: shared memory segments require linux")
}
