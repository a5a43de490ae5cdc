package main

import "x402arcade/internal/cli"

func main() {
	cli.Execute()
}
