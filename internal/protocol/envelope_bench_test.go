package protocol

import "testing"

// BenchmarkEnvelopeMarshalUnmarshal measures a full wire round trip of the
// envelope codec, grounded on the teacher's dhtpeer benchmarks_test.go bare
// testing.B style (no third-party benchmarking library).
func BenchmarkEnvelopeMarshalUnmarshal(b *testing.B) {
	env := &Envelope{
		To:         "fetch1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh",
		Sender:     "fetch1z2d9ahrhkgpdyv3kwwrxtl9g2mdyvv2kqhwqmw",
		ProtocolID: ProtocolID{Author: "fetchai", Name: "default", Version: "1.0.0"},
		Message:    []byte(`{"performative": "bytes", "content": "hello world"}`),
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := env.Marshal()
		if err != nil {
			b.Fatal(err)
		}
		if _, err := Unmarshal(data); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFrameRoundTrip measures WriteFrame/ReadFrame over an in-memory
// buffer, the length-prefixed framing every stream/socket transport uses.
func BenchmarkFrameRoundTrip(b *testing.B) {
	var buf countingBuffer
	payload := []byte("the quick brown fox jumps over the lazy dog")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.data = buf.data[:0]
		if err := WriteFrame(&buf, payload); err != nil {
			b.Fatal(err)
		}
		if _, err := ReadFrame(&buf); err != nil {
			b.Fatal(err)
		}
	}
}

// countingBuffer is a minimal io.ReadWriter backed by a slice, avoiding a
// bytes.Buffer import just for benchmarking.
type countingBuffer struct {
	data []byte
	pos  int
}

func (b *countingBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *countingBuffer) Read(p []byte) (int, error) {
	n := copy(p, b.data[b.pos:])
	b.pos += n
	if b.pos >= len(b.data) {
		b.pos = 0
		b.data = b.data[:0]
	}
	return n, nil
}
