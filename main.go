// chatd - a token-protected broadcast chat server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatd/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatd: %v\n", err)
		os.Exit(1)
	}
}
