package aflpp

import (
	"fmt"

	"github.com/gen2brain/shm"
)

// ipcPrivate asks the kernel for a fresh segment instead of a keyed one.
const ipcPrivate = 0

// bitmap is the SysV shared memory segment the instrumented target writes
// its edge hit counts into. Its id is handed over in __AFL_SHM_ID.
type bitmap struct {
	id  int
	buf []byte
}

func newBitmap(size int) (*bitmap, error) {
	id, err := shm.Get(ipcPrivate, size, 0600|shm.IPC_CREAT|shm.IPC_EXCL)
	if err != nil {
		return nil, fmt.Errorf("failed to create shared memory: %w", err)
	}
	buf, err := shm.At(id, 0, 0)
	if err != nil {
		shm.Ctl(id, shm.IPC_RMID, nil)
		return nil, fmt.Errorf("failed to attach shared memory: %w", err)
	}
	return &bitmap{id, buf[:size]}, nil
}

func (b *bitmap) reset() {
	clear(b.buf)
}

func (b *bitmap) trace() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}

// Close detaches and removes the segment.
func (b *bitmap) Close() error {
	if err := shm.Dt(b.buf); err != nil {
		return err
	}
	_, err := shm.Ctl(b.id, shm.IPC_RMID, nil)
	return err
}
