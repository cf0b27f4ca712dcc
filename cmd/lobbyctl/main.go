package main

import "github.com/mcoot/partylobby/internal/cli"

func main() {
	cli.Execute()
}
