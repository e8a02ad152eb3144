package main

import (
	"github.com/pennylab/penny/cmd"
)

func main() {
	cmd.Execute()
}
