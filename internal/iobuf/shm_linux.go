//go:build linux

package iobuf

import "golang.org/x/sys/unix"

// allocateShared creates and attaches a System-V shared memory segment
// of the given length, per §4.3(a)'s "shared memory selected and the
// platform supports it" priority rule.
func allocateShared(length int) ([]byte, int, error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, length, unix.IPC_CREAT|0o600)
	if err != nil {
		return nil, -1, err
	}

	mem, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		return nil, -1, err
	}

	// Mark the segment for destruction once the last attacher detaches,
	// so a crashed process doesn't leak it.
	_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)

	return mem, id, nil
}

// detachShared detaches a previously-attached System-V shared segment.
func detachShared(mem []byte, _ int) error {
	return unix.SysvShmDetach(mem)
}
