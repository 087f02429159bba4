// Command virtmem runs a workload over a simulated virtual memory and reports
// the page faults and disk traffic it caused.
package main

import "github.com/sarchlab/virtmem/virtmem/cmd"

func main() {
	cmd.Execute()
}
