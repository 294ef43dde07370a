// The main package for the catalogcrawler executable.
package main

import (
	"github.com/bling0390/vivbliss/cmd"
)

func main() {
	cmd.Execute()
}
