// Command icns-wasm is the reference icon encoder plugin for froyopack.
// It reads an .ico or .png file on stdin and writes a resource table holding
// one Apple icon family to stdout.
//
// Build it for WASI and point a build configuration at the result:
//
//	GOOS=wasip1 GOARCH=wasm go build -o icns.wasm .
//
//	icon_encoder: "wasm:plugins/icns.wasm"
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/openfroyo/froyopack/pkg/resources"
)

func main() {
	os.Exit(run(os.Stdin, os.Stdout, os.Stderr))
}

func run(stdin io.Reader, stdout, stderr io.Writer) int {
	src, err := io.ReadAll(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "read icon: %v\n", err)
		return 1
	}

	blob, err := resources.ICNSEncoder{}.EncodeIcon(src)
	if err != nil {
		fmt.Fprintf(stderr, "encode icon: %v\n", err)
		return 2
	}

	table := resources.NewTable()
	table.AddBlob(blob)
	out, err := table.MarshalBinary()
	if err != nil {
		fmt.Fprintf(stderr, "marshal table: %v\n", err)
		return 1
	}

	if _, err := stdout.Write(out); err != nil {
		fmt.Fprintf(stderr, "write table: %v\n", err)
		return 1
	}
	return 0
}
