package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"tsundoku/internal/services"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", services.Summary(err))
		}
		os.Exit(1)
	}
}
