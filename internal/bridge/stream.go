package bridge

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	// Roster timestamps keep sub-second precision.
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("bridge: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("bridge: CBOR decoder initialization failed: " + err.Error())
	}
}

// Stream is a Transport over a byte stream, one CBOR item per message.
type Stream struct {
	rwc io.ReadWriteCloser

	sendMu sync.Mutex
	enc    *cbor.Encoder
	recvMu sync.Mutex
	dec    *cbor.Decoder

	closeOnce sync.Once
	closed    chan struct{}
}

// NewStream wraps rwc.
func NewStream(rwc io.ReadWriteCloser) *Stream {
	return &Stream{
		rwc:    rwc,
		enc:    encMode.NewEncoder(rwc),
		dec:    decMode.NewDecoder(rwc),
		closed: make(chan struct{}),
	}
}

func (s *Stream) Send(m Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.enc.Encode(m); err != nil {
		if s.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("bridge encode: %w", err)
	}
	return nil
}

func (s *Stream) Recv() (Message, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()
	var m Message
	if err := s.dec.Decode(&m); err != nil {
		if s.isClosed() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return Message{}, ErrClosed
		}
		return Message{}, fmt.Errorf("bridge decode: %w", err)
	}
	return m, nil
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.rwc.Close()
	})
	return err
}

func (s *Stream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Listen opens a unix socket at path, replacing a stale socket file.
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bridge listen %s: %w", path, err)
	}
	return ln, nil
}

// Dial connects to the unix socket at path.
func Dial(path string) (*Stream, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("bridge dial %s: %w", path, err)
	}
	return NewStream(conn), nil
}
