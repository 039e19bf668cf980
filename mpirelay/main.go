// Command mpirelay runs and inspects the MPI message relay.
package main

import "github.com/sarchlab/mpirelay/mpirelay/cmd"

func main() {
	cmd.Execute()
}
