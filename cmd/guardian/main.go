package main

import "github.com/archiegate/guardian/internal/cli"

func main() {
	cli.Execute()
}
