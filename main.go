// Command ueventd is the device manager core: it consumes the kernel's
// uevent stream and turns it into device nodes, symlinks, permission
// fixups, firmware transfers, and on-demand module loads.
package main

import (
	"fmt"
	"os"

	"github.com/smazurov/ueventd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
