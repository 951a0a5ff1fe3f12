// Command persistor hosts persistent ledger accounts over HTTP and inspects
// journals from the command line.
package main

import (
	"fmt"
	"os"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
