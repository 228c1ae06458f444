// Command xvm is the thin entrypoint for the xvm toolchain CLI; all
// behavior lives in cmd/xvm.
package main

import (
	"fmt"
	"os"

	"github.com/maxrt101/xvm-go/cmd/xvm"
)

func main() {
	if err := xvm.New().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
