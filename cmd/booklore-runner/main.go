package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/turtacn/booklore-runner/internal/cli"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

func main() {
	// Children run in their own process groups and would outlive a crash of
	// the runner, so a panic is logged with its stack rather than swallowed.
	defer func() {
		if r := recover(); r != nil {
			if logger.Log != nil {
				logger.Log.Error("Panic recovered", "panic", r, "stack", string(debug.Stack()))
			} else {
				fmt.Fprintf(os.Stderr, "Panic recovered: %v\n%s", r, debug.Stack())
			}
			os.Exit(1)
		}
	}()

	cli.Execute()
}

// Personal.AI order the ending
