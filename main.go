package main

import (
	"github.com/cybuild/cybuild/cmd"
)

func main() {
	cmd.Execute()
}
