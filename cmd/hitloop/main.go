package main

import "github.com/viant/hitloop/internal/cli"

func main() {
	cli.Execute()
}
