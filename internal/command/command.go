// Package command runs external helper programs, such as the manual page viewer of the pkgqueue
// command.
package command

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Feed runs the command with input on its standard input and waits for it to exit.  The command's
// stdout and stderr are connected to the process's own.
func Feed(ctx context.Context, input []byte, args ...string) error {
	slog.DebugContext(ctx, "running command", "args", args)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w", strings.Join(args, " "), err)
	}
	return nil
}
