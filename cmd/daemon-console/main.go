// Package main is the entry point for the daemon-console daemon.
package main

import "github.com/basecamp/daemon-console/internal/cli"

func main() {
	cli.Execute()
}
