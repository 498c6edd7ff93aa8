// The main package for the shopfinder executable.
package main

import (
	"github.com/JakeFAU/shopfinder-crawler/cmd"
)

func main() {
	cmd.Execute()
}
