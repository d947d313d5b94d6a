package juliaproject

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

//go:embed scripts/rpcserver.jl
var rpcServerScript string

// maxRPCMessageSize bounds a single framed message. A length prefix beyond
// it means the stream is corrupt.
const maxRPCMessageSize = 64 << 20

// transport frames byte messages over a stream. The RPC bridge speaks it to
// a Julia child; tests speak it to an in-memory peer.
type transport interface {
	// Send transmits one message to the remote endpoint.
	Send(data []byte) error
	// Receive reads one complete message from the remote endpoint.
	Receive() ([]byte, error)
	// Close releases the underlying streams.
	Close() error
}

// bufferPool manages a pool of reusable byte slices to reduce GC pressure
// on the receive path. It uses a channel-based design for thread-safe
// access without locks.
type bufferPool struct {
	pool    chan []byte
	bufSize int
}

func newBufferPool(bufSize, count int) *bufferPool {
	pool := make(chan []byte, count)
	for i := 0; i < count; i++ {
		pool <- make([]byte, bufSize)
	}
	return &bufferPool{pool: pool, bufSize: bufSize}
}

// get returns a buffer from the pool, or allocates a new one if the pool is
// empty.
func (bp *bufferPool) get() []byte {
	select {
	case buf := <-bp.pool:
		return buf
	default:
		return make([]byte, bp.bufSize)
	}
}

// put returns a buffer to the pool. Buffers of the wrong capacity and
// buffers beyond the pool's count are discarded for garbage collection.
func (bp *bufferPool) put(buf []byte) {
	if cap(buf) != bp.bufSize {
		return
	}
	select {
	case bp.pool <- buf[:bp.bufSize]:
	default:
	}
}

// lengthPrefixedTransport is the wire format shared with the Julia RPC
// server: each message is a 4-byte big-endian length followed by that many
// bytes of MessagePack data.
type lengthPrefixedTransport struct {
	reader io.ReadCloser
	writer io.WriteCloser
	pool   *bufferPool
}

func newLengthPrefixedTransport(reader io.ReadCloser, writer io.WriteCloser) *lengthPrefixedTransport {
	return &lengthPrefixedTransport{
		reader: reader,
		writer: writer,
		pool:   newBufferPool(8192, 8),
	}
}

func (t *lengthPrefixedTransport) Send(data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := t.writer.Write(header[:]); err != nil {
		return err
	}
	_, err := t.writer.Write(data)
	return err
}

func (t *lengthPrefixedTransport) Receive() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(t.reader, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxRPCMessageSize {
		return nil, fmt.Errorf("message length %d exceeds limit", length)
	}

	// For small messages, read through the pool and return a copy.
	if length <= uint32(t.pool.bufSize) {
		buf := t.pool.get()[:length]
		if _, err := io.ReadFull(t.reader, buf); err != nil {
			t.pool.put(buf)
			return nil, err
		}
		result := make([]byte, length)
		copy(result, buf)
		t.pool.put(buf)
		return result, nil
	}

	data := make([]byte, length)
	_, err := io.ReadFull(t.reader, data)
	return data, err
}

func (t *lengthPrefixedTransport) Close() error {
	if err := t.writer.Close(); err != nil {
		t.reader.Close()
		return err
	}
	return t.reader.Close()
}

// rpcRequest is one framed request to the Julia RPC server.
type rpcRequest struct {
	ID   int64  `msgpack:"id"`
	Mode string `msgpack:"mode"` // "eval", "evalall", or "import"
	Code string `msgpack:"code"`
}

// rpcResponse is the server's reply. Output is set on success; the
// exception fields are set on error.
type rpcResponse struct {
	ID        int64  `msgpack:"id"`
	Status    string `msgpack:"status"` // "ok" or "error"
	Output    string `msgpack:"output"`
	Exception string `msgpack:"exception"`
	Message   string `msgpack:"message"`
	Backtrace string `msgpack:"backtrace"`
}

// pythoncallBridge runs Julia as an RPC server speaking length-prefixed
// MessagePack messages on its standard streams. The server imports
// PythonCall and MsgPack at startup, which is why projects using this
// bridge need both packages installed.
//
// The bridge is safe for concurrent use; requests are serialized via an
// internal mutex, and every response is matched to its request id.
type pythoncallBridge struct {
	cfg bridgeConfig

	// m serializes requests on the protocol stream
	m sync.Mutex

	proc   *juliaProc
	tr     transport
	nextID int64

	started bool
	closed  bool
}

func newPythonCallBridge(cfg bridgeConfig) *pythoncallBridge {
	return &pythoncallBridge{cfg: cfg}
}

// Start launches the Julia server and waits for its hello message.
func (b *pythoncallBridge) Start() error {
	b.m.Lock()
	defer b.m.Unlock()
	if b.closed {
		return fmt.Errorf("bridge has been closed")
	}
	if b.started {
		return nil
	}
	proc, err := startJuliaProc(b.cfg, rpcServerScript)
	if err != nil {
		return fmt.Errorf("error starting julia rpc server: %v", err)
	}
	b.proc = proc
	b.tr = newLengthPrefixedTransport(proc.Stdout, proc.Stdin)
	hello, err := b.receive()
	if err != nil {
		proc.Terminate()
		return fmt.Errorf("julia rpc server failed to start: %v", err)
	}
	if hello.Status != "ok" {
		proc.Terminate()
		return fmt.Errorf("julia rpc server failed to start: %v",
			&JuliaError{Exception: hello.Exception, Message: hello.Message, Backtrace: hello.Backtrace})
	}
	b.started = true
	b.cfg.logger().Info("julia rpc bridge started", "server", hello.Output)
	return nil
}

func (b *pythoncallBridge) receive() (*rpcResponse, error) {
	data, err := b.tr.Receive()
	if err != nil {
		return nil, err
	}
	var resp rpcResponse
	if err := msgpack.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("error decoding rpc response: %v", err)
	}
	return &resp, nil
}

// call sends one request and returns the matched response's output. An
// exception raised by the code is returned as a *JuliaError.
func (b *pythoncallBridge) call(mode, code string) (string, error) {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return "", fmt.Errorf("bridge has been closed")
	}
	if !b.started {
		return "", fmt.Errorf("bridge has not been started")
	}

	b.nextID++
	req := rpcRequest{ID: b.nextID, Mode: mode, Code: code}
	data, err := msgpack.Marshal(&req)
	if err != nil {
		return "", fmt.Errorf("error encoding rpc request: %v", err)
	}
	if err := b.tr.Send(data); err != nil {
		return "", err
	}
	resp, err := b.receive()
	if err != nil {
		return "", err
	}
	if resp.ID != req.ID {
		return "", fmt.Errorf("rpc response id mismatch: got %d, want %d", resp.ID, req.ID)
	}
	if resp.Status == "error" {
		return "", &JuliaError{Exception: resp.Exception, Message: resp.Message, Backtrace: resp.Backtrace}
	}
	return resp.Output, nil
}

// Eval evaluates Julia code in Main and returns the captured output
// followed by the printed value of the final expression.
func (b *pythoncallBridge) Eval(code string) (string, error) {
	return b.call("eval", code)
}

// EvalAll evaluates a multi-expression script in Main.
func (b *pythoncallBridge) EvalAll(code string) (string, error) {
	return b.call("evalall", code)
}

// Import loads a Julia module into Main.
func (b *pythoncallBridge) Import(module string) error {
	_, err := b.call("import", module)
	return err
}

// Close terminates the Julia process. After Close the bridge cannot be
// reused. Returns an error if already closed.
func (b *pythoncallBridge) Close() error {
	b.m.Lock()
	defer b.m.Unlock()

	if b.closed {
		return fmt.Errorf("bridge has been closed")
	}
	b.closed = true
	if b.proc == nil {
		return nil
	}
	return b.proc.Terminate()
}
