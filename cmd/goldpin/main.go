package main

import "github.com/khaledrokaya2/goldpin/services/runner/cli"

func main() {
	cli.Execute()
}
