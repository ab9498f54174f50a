// Command blip runs the Blip connections backend.
//
// Usage:
//
//	blip serve
//	blip migrate [up|status]
//	blip seed <name>
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/blip/backend/internal/app"
)

func main() {
	if err := app.Run(context.Background(), os.Args[1:]); err != nil {
		slog.Error("blip exited with error", "error", err)
		os.Exit(1)
	}
}
