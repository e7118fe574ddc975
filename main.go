// The main package for the clipper executable.
package main

import (
	"github.com/famotime/siyuan-scripts/cmd"
)

func main() {
	cmd.Execute()
}
