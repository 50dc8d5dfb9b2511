package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// captureTimeout is the hard kill deadline for /cap bash processes (§4.7,
// §5 "Bash captures have a 3-minute hard kill").
const captureTimeout = 3 * time.Minute

// captureOutputLimit bounds how much stdout/stderr is echoed back to
// Telegram before truncation.
const captureOutputLimit = 3500

// handleCapture runs /cap <bash>: spawns a bash process in its own process
// group, isolates stdin, collects combined stdout+stderr, and replies with
// the (possibly truncated) output. Grounded on the teacher's shell tool
// execution pattern (process-group isolation, devnull stdin, timeout via
// context).
func (b *Bridge) handleCapture(ctx context.Context, m *tgbotapi.Message, command string) {
	if command == "" {
		b.notify(ctx, "Usage: /cap <command>")
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	shellPath := detectShell()
	cmd := exec.CommandContext(execCtx, shellPath, "-c", command)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDONLY, 0)
	if err == nil {
		cmd.Stdin = devNull
		defer devNull.Close()
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Start(); err != nil {
		b.notify(ctx, "Failed to start command: "+err.Error())
		return
	}

	sess := b.ensureSession()
	sess.TrackBash(cmd.Process.Pid, truncateForLabel(command))
	defer sess.UntrackBash(cmd.Process.Pid)

	err = cmd.Wait()

	result := output.String()
	timedOut := execCtx.Err() != nil
	exitCode := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	b.notify(ctx, formatCaptureResult(result, exitCode, timedOut))
}

// killBash terminates a tracked bash process group by pid, used by
// /interrupt.
func (b *Bridge) killBash(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		log.Printf("[bash] kill pid %d failed: %v", pid, err)
	}
	if b.sess != nil {
		b.sess.UntrackBash(pid)
	}
}

func detectShell() string {
	if p, err := exec.LookPath("bash"); err == nil {
		return p
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "bash"
}

func truncateForLabel(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}

func formatCaptureResult(output string, exitCode int, timedOut bool) string {
	var sb strings.Builder
	if timedOut {
		sb.WriteString("[Command timed out after 3 minutes]\n\n")
	}
	truncated := false
	if len(output) > captureOutputLimit {
		output = output[:captureOutputLimit]
		truncated = true
	}
	sb.WriteString(output)
	if !strings.HasSuffix(output, "\n") {
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "exit_code: %d", exitCode)
	if truncated {
		sb.WriteString("\n\n[Output truncated]")
	}
	return sb.String()
}
