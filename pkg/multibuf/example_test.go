package multibuf_test

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/twinfer/kbin-multibuf/pkg/multibuf"
)

func Example() {
	buf := multibuf.New(multibuf.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	cur := buf.Cursor()

	// the second half of the stream arrives first
	buf.Insert(4, []byte{0x00, 0x00, 0x00, 0x2A})
	fmt.Println("ready:", cur.Init() == nil)

	buf.Insert(0, []byte{0x00, 0x00, 0x00, 0x07})
	fmt.Println("ready:", cur.Init() == nil)
	fmt.Println("contiguous until:", cur.ContiguousEnd())

	stream := buf.FieldReader()
	a, _ := stream.ReadU4be()
	b, _ := stream.ReadU4be()
	fmt.Println("values:", a, b)

	cur.Reposition(true, cur.FilePosition(), true)
	fmt.Println(buf.Report())
	fmt.Println("chunks left:", buf.Registry().Len())
	// Output:
	// ready: false
	// ready: true
	// contiguous until: 8
	// values: 7 42
	// 2 chunks (8/8 bytes): 0-8
	// chunks left: 0
}

func ExampleCursor_Reposition() {
	buf := multibuf.New(multibuf.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	buf.Insert(0, make([]byte, 100))
	buf.Insert(200, make([]byte, 100))
	cur := buf.Cursor()
	cur.Init()

	fmt.Println(cur.Reposition(false, 150, false))
	fmt.Println(cur.Reposition(false, 250, false), cur.FilePosition())
	fmt.Println(cur.Reposition(false, 50, false))
	fmt.Println(cur.Reposition(true, 50, false), cur.FilePosition())
	// Output:
	// false
	// true 250
	// false
	// true 50
}
