package service

import (
	"bytes"
	"context"
	"log"
	"os/exec"
	"strings"
)

// Runner executes external commands. It exists so tests can stub the
// poppler and tesseract binaries.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		log.Printf("Command failed: %s %s: %v (stderr: %s)", name, strings.Join(args, " "), err, truncateForLog(errb.String()))
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncateForLog(s string) string {
	const max = 2048
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
