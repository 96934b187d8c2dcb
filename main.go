// ./main.go
package main

import (
	"github.com/sbrtools/gcbot/cmd"
)

// main is the entry point for the gcbot application.
func main() {
	cmd.Execute()
}
