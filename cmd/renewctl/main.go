// Package main is the entry point for the renewctl CLI.
package main

import "github.com/renewdesk/renewctl/internal/cli"

func main() {
	cli.Execute()
}
