// Package main is the CLI command itself.
package main

import (
	"log"
	"os"

	wbccli "go.viam.com/wbc/cli"
)

func main() {
	app := wbccli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
