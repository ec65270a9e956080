package acn

import (
	"bytes"
	"net"
	"testing"
	"time"
)

// BenchmarkComputeCID measures the cost of the address-to-CID hash every
// DHT provide/lookup call pays, grounded on the teacher's
// dht/dhtpeer/benchmarks_test.go bare testing.B style.
func BenchmarkComputeCID(b *testing.B) {
	address := "fetch1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := computeCID(address); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFramedConnRoundTrip measures writeFramedConn/readFramedConn over
// an in-memory buffer, the framing every delegate-client connection pays on
// each envelope/status exchange.
func BenchmarkFramedConnRoundTrip(b *testing.B) {
	payload := bytes.Repeat([]byte("x"), 512)
	conn := &bufferConn{buf: new(bytes.Buffer)}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		conn.buf.Reset()
		if err := writeFramedConn(conn, payload); err != nil {
			b.Fatal(err)
		}
		if _, err := readFramedConn(conn); err != nil {
			b.Fatal(err)
		}
	}
}

// bufferConn is a minimal net.Conn over a bytes.Buffer, just enough to
// exercise writeFramedConn/readFramedConn without a real socket.
type bufferConn struct{ buf *bytes.Buffer }

func (c *bufferConn) Read(p []byte) (int, error)      { return c.buf.Read(p) }
func (c *bufferConn) Write(p []byte) (int, error)     { return c.buf.Write(p) }
func (c *bufferConn) Close() error                    { return nil }
func (c *bufferConn) LocalAddr() net.Addr             { return nil }
func (c *bufferConn) RemoteAddr() net.Addr            { return nil }
func (c *bufferConn) SetDeadline(time.Time) error     { return nil }
func (c *bufferConn) SetReadDeadline(time.Time) error  { return nil }
func (c *bufferConn) SetWriteDeadline(time.Time) error { return nil }
