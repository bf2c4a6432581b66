package sim

import "io"

// Memory is an in-memory Store.
type Memory []byte

// NewMemory allocates blocks zeroed blocks.
func NewMemory(blocks uint32) Memory {
	return make(Memory, int(blocks)*BlockSize)
}

// ReadAt implements io.ReaderAt.
func (m Memory) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (m Memory) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	return copy(m[off:], p), nil
}

// Block returns the contents of block n.
func (m Memory) Block(n uint32) []byte {
	return m[int(n)*BlockSize : int(n+1)*BlockSize]
}
