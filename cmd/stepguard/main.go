package main

import "github.com/stepguard-dev/stepguard/pkg/cli"

func main() {
	cli.Execute()
}
