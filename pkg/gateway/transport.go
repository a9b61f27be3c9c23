package gateway

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is one live gateway socket. Sessions only ever see this
// interface, so tests drive the state machine with an in-memory fake.
type Transport interface {
	// ReadMessage blocks for the next decompressed payload.
	ReadMessage() ([]byte, error)
	// WriteJSON sends one JSON payload. Safe for concurrent use.
	WriteJSON(v any) error
	// Close sends a close frame with the given code and tears the socket down.
	Close(code int, text string) error
}

// Dialer opens gateway sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Transport, error)
}

// CloseError carries the close code received from the server.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway closed: code %d: %s", e.Code, e.Text)
}

// closeCode extracts a server close code from a read error, if present.
func closeCode(err error) (int, bool) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	var wce *websocket.CloseError
	if errors.As(err, &wce) {
		return wce.Code, true
	}
	return 0, false
}

// wsDialer dials real websocket connections via gorilla/websocket.
type wsDialer struct {
	handshakeTimeout time.Duration
	compress         bool
}

// NewDialer returns the production websocket dialer. compress enables
// zlib-stream transport compression.
func NewDialer(compress bool) Dialer {
	return &wsDialer{handshakeTimeout: 30 * time.Second, compress: compress}
}

func (d *wsDialer) Dial(ctx context.Context, url string) (Transport, error) {
	url += "?v=9&encoding=json"
	if d.compress {
		url += "&compress=zlib-stream"
	}
	dialer := websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	t := &wsTransport{conn: conn}
	if d.compress {
		t.inflator = newInflator()
	}
	return t, nil
}

// wsTransport wraps a gorilla connection. Writes are serialized; gorilla
// permits one concurrent writer only.
type wsTransport struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	inflator *inflator
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			var wce *websocket.CloseError
			if errors.As(err, &wce) {
				return nil, &CloseError{Code: wce.Code, Text: wce.Text}
			}
			return nil, err
		}
		switch kind {
		case websocket.TextMessage:
			return data, nil
		case websocket.BinaryMessage:
			if t.inflator == nil {
				return nil, errors.New("unexpected binary frame on uncompressed transport")
			}
			payload, complete, err := t.inflator.push(data)
			if err != nil {
				return nil, err
			}
			if complete {
				return payload, nil
			}
			// Partial zlib chunk; keep reading until the flush suffix.
		}
	}
}

func (t *wsTransport) WriteJSON(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *wsTransport) Close(code int, text string) error {
	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, text)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}

// zlibSuffix terminates every complete zlib-stream chunk.
var zlibSuffix = []byte{0x00, 0x00, 0xff, 0xff}

// inflator reassembles the shared zlib stream the gateway sends when
// compress=zlib-stream is negotiated. Compressed bytes accumulate until the
// sync-flush suffix, then one JSON document is decoded from the shared
// decompression context.
type inflator struct {
	pw  *io.PipeWriter
	dec *json.Decoder
	buf bytes.Buffer
}

func newInflator() *inflator {
	pr, pw := io.Pipe()
	inf := &inflator{pw: pw}
	inf.dec = json.NewDecoder(&lazyZlibReader{src: pr})
	return inf
}

// push appends a compressed chunk. When the chunk completes a flush boundary
// the decompressed JSON document is returned with complete=true.
func (z *inflator) push(data []byte) ([]byte, bool, error) {
	z.buf.Write(data)
	if len(data) < len(zlibSuffix) || !bytes.HasSuffix(data, zlibSuffix) {
		return nil, false, nil
	}
	chunk := make([]byte, z.buf.Len())
	copy(chunk, z.buf.Bytes())
	z.buf.Reset()

	// The pipe is unbuffered, so the writer runs concurrently with the
	// decoder pulling from the other end.
	go func() {
		_, _ = z.pw.Write(chunk)
	}()

	var raw json.RawMessage
	if err := z.dec.Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("inflate gateway frame: %w", err)
	}
	return raw, true, nil
}

// lazyZlibReader defers zlib header parsing until the first compressed bytes
// arrive, since zlib.NewReader reads the stream header eagerly.
type lazyZlibReader struct {
	src io.Reader
	zr  io.ReadCloser
}

func (r *lazyZlibReader) Read(p []byte) (int, error) {
	if r.zr == nil {
		zr, err := zlib.NewReader(r.src)
		if err != nil {
			return 0, err
		}
		r.zr = zr
	}
	return r.zr.Read(p)
}
