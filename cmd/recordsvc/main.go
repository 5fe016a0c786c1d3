// Package main is the entry point for the record service.
package main

import (
	"os"

	"github.com/goliatone/go-record-service/cmd/recordsvc/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
