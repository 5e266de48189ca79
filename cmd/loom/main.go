package main

import "github.com/loomworks/loom/internal/cli"

func main() {
	cli.Execute()
}
