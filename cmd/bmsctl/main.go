// Command bmsctl runs the battery controller against a simulated pack and
// works with its CAN frames.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
