package main

import "aura-oracle/internal/cli"

func main() {
	cli.Execute()
}
