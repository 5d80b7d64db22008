package main

import "github.com/younsl/eksup/internal/cli"

func main() {
	cli.Execute()
}
