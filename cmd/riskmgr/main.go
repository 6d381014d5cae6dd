package main

import "github.com/Jakers471/risk-manager/internal/cli"

func main() {
	cli.Execute()
}
