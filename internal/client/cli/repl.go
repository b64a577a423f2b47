package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// runREPL reads one command per line and hands its fields to exec. Errors
// are printed and the loop continues. It returns on EOF, "exit" or "quit".
func runREPL(ctx context.Context, exec func(context.Context, []string) error, scanner *bufio.Scanner) {
	for {
		printlnFn("gup> ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		if err := exec(ctx, parts); err != nil {
			printlnFn("error:", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
