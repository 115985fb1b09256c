package delta

import (
	"bytes"
	"io"
	"os"
	"sync"

	"svnlite/internal/errors"
)

// ErrStreamReleased is returned by reads from a content stream after the
// editor call it was passed to has returned.
var ErrStreamReleased = errors.New("content stream used after its editor call returned")

// spoolMemory is how much content is held in memory before spilling to a
// temporary file.
const spoolMemory = 4 << 20

// scopedReader hands a stream to one editor call and cuts it off afterwards.
type scopedReader struct {
	mu       sync.Mutex
	r        io.Reader
	released bool
}

func (s *scopedReader) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return 0, ErrStreamReleased
	}
	return s.r.Read(p)
}

func (s *scopedReader) release() {
	s.mu.Lock()
	s.released = true
	s.mu.Unlock()
}

// spool holds verified content, in memory up to spoolMemory bytes and in a
// temporary file past that.
type spool struct {
	buf  bytes.Buffer
	file *os.File
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && s.buf.Len()+len(p) > spoolMemory {
		f, err := os.CreateTemp("", "svnlite-content-*")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(s.buf.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return 0, err
		}
		s.buf.Reset()
		s.file = f
	}
	if s.file != nil {
		return s.file.Write(p)
	}
	return s.buf.Write(p)
}

func (s *spool) reader() (io.Reader, error) {
	if s.file == nil {
		return bytes.NewReader(s.buf.Bytes()), nil
	}
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.file, nil
}

func (s *spool) discard() {
	if s.file != nil {
		s.file.Close()
		os.Remove(s.file.Name())
	}
}

// withScopedStream reads contents to the end, checks it against checksum
// and closes it. Only verified content reaches call, through a reader that
// stops working when call returns. A mismatch fails before call runs.
func withScopedStream(contents io.Reader, checksum *Checksum, call func(io.Reader) error) error {
	defer closeStream(contents)

	h, err := checksum.NewHash()
	if err != nil {
		return errors.Validation("%v", err)
	}
	var sp spool
	defer sp.discard()
	if _, err := io.Copy(io.MultiWriter(&sp, h), contents); err != nil {
		return errors.Transport(err, "reading content stream")
	}
	if !checksum.Matches(h) {
		return errors.Validation("checksum mismatch: expected %s", checksum)
	}

	r, err := sp.reader()
	if err != nil {
		return errors.Transport(err, "rewinding spooled content")
	}
	scoped := &scopedReader{r: r}
	defer scoped.release()
	return call(scoped)
}

func closeStream(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}
