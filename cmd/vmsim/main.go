// Command vmsim runs the paged memory-management simulator.
package main

import "github.com/sarchlab/vmsim/cmd/vmsim/cmd"

func main() {
	cmd.Execute()
}
