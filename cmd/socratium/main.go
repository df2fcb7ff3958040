// Command socratium inspects PDFs offline: page maps, outlines, section
// resolution and the reading context a chat turn would send.
package main

import (
	"fmt"
	"os"

	"socratium/pkg/extract"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	app := newCLIApp(os.Stdout, extract.New())
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
