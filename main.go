// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/veritrail-cli/cmd"
)

// main is the entry point for the VeriTrail CLI. Interrupt and termination
// signals cancel the run context; in-flight scenarios finish, new ones stop.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
