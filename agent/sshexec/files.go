package sshexec

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ErrBadPath rejects remote paths that climb out of their base directory.
var ErrBadPath = errors.New("invalid remote path")

// JoinUnder joins name onto base and refuses results outside base.
func JoinUnder(base, name string) (string, error) {
	if name == "" || strings.Contains(name, "\x00") {
		return "", ErrBadPath
	}
	base = path.Clean("/" + base)
	full := path.Clean(path.Join(base, name))
	if full != base && !strings.HasPrefix(full, strings.TrimSuffix(base, "/")+"/") {
		return "", fmt.Errorf("%w: %s", ErrBadPath, name)
	}
	return full, nil
}

func stderrOr(res *Result, fallback string) string {
	if msg := strings.TrimSpace(string(res.Stderr)); msg != "" {
		return msg
	}
	return fallback
}

// ReadFile returns the contents of a remote file.
func ReadFile(ctx context.Context, r Runner, h Host, p string) ([]byte, error) {
	res, err := r.Run(ctx, h, "cat -- "+Quote(p))
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, errors.New(stderrOr(res, fmt.Sprintf("Failed to read file: exit code %d", res.ExitCode)))
	}
	return res.Stdout, nil
}

// RemoveFile deletes a remote file.
func RemoveFile(ctx context.Context, r Runner, h Host, p string) error {
	res, err := r.Run(ctx, h, "rm -f -- "+Quote(p))
	if err != nil {
		return err
	}
	if !res.OK() {
		return errors.New(stderrOr(res, fmt.Sprintf("rm exit code %d", res.ExitCode)))
	}
	return nil
}

// NewestFiles lists up to limit files in dir whose names start with
// prefix, newest first.
func NewestFiles(ctx context.Context, r Runner, h Host, dir, prefix string, limit int) ([]string, error) {
	if strings.ContainsAny(prefix, "/\x00") {
		return nil, fmt.Errorf("%w: %s", ErrBadPath, prefix)
	}
	if limit <= 0 {
		limit = 1
	}
	// Globbing stays in the remote shell, so only the directory is quoted.
	cmd := fmt.Sprintf("cd -- %s && ls -1t -- %s* 2>/dev/null | head -n %s",
		Quote(dir), globSafe(prefix), strconv.Itoa(limit))
	res, err := r.Run(ctx, h, cmd)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// globSafe quotes prefix for the shell while keeping the trailing glob
// outside the quotes.
func globSafe(prefix string) string {
	if prefix == "" {
		return ""
	}
	return Quote(prefix)
}
