package main

import "agilewatch/internal/cli"

func main() {
	cli.Execute()
}
