package agent

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
)

func (d *Dispatcher) handleTFTPGet(ctx context.Context, p Params) (Result, error) {
	if !d.tftp() {
		return fail("TFTP server not configured"), nil
	}
	name := p.Str("path", "")
	if name == "" {
		return nil, errors.New("path required")
	}
	full, err := sshexec.JoinUnder(d.opts.TFTPPath, name)
	if err != nil {
		return fail(err.Error(), "path", name), nil
	}
	data, err := sshexec.ReadFile(ctx, d.opts.SSH, d.opts.TFTP, full)
	if err != nil {
		return fail(err.Error(), "path", full), nil
	}
	return ok(
		"filename", path.Base(full),
		"path", full,
		"size", len(data),
		"content_base64", base64.StdEncoding.EncodeToString(data),
	), nil
}

// handlePNMFetchFile reads one capture by name, optionally from a
// subdirectory of the TFTP root, and can delete it afterwards.
func (d *Dispatcher) handlePNMFetchFile(ctx context.Context, p Params) (Result, error) {
	if !d.tftp() {
		return fail("TFTP server not configured"), nil
	}
	name := p.Str("filename", "")
	if name == "" {
		return nil, errors.New("filename required")
	}
	base := d.opts.TFTPPath
	if dir := strings.Trim(p.Str("directory", ""), "/"); dir != "" {
		joined, err := sshexec.JoinUnder(base, dir)
		if err != nil {
			return fail(err.Error(), "directory", dir), nil
		}
		base = joined
	}
	full, err := sshexec.JoinUnder(base, name)
	if err != nil {
		return fail(err.Error(), "filename", name), nil
	}
	data, err := sshexec.ReadFile(ctx, d.opts.SSH, d.opts.TFTP, full)
	if err != nil {
		return fail(err.Error(), "filename", name), nil
	}
	res := ok(
		"filename", name,
		"path", full,
		"size", len(data),
		"data_base64", base64.StdEncoding.EncodeToString(data),
	)
	if p.Bool("remove", false) {
		if err := sshexec.RemoveFile(ctx, d.opts.SSH, d.opts.TFTP, full); err != nil {
			d.log.Warn("Capture cleanup failed", "file", full, "error", err)
			res["removed"] = false
		} else {
			res["removed"] = true
		}
	}
	return res, nil
}

func (d *Dispatcher) handleCMTSCommand(ctx context.Context, p Params) (Result, error) {
	if !d.sshReady() || !d.opts.CMTSSSHEnabled {
		return fail("CMTS SSH access not enabled"), nil
	}
	host := p.Str("cmts_host", "")
	command := p.Str("command", "")
	if host == "" || command == "" {
		return nil, errors.New("cmts_host and command required")
	}
	h := d.opts.CMTSSSH
	h.Host = host
	res, err := d.opts.SSH.Run(ctx, h, command)
	if err != nil {
		return fail(err.Error(), "cmts_host", host, "command", command), nil
	}
	out := Result{
		"success":   res.OK(),
		"cmts_host": host,
		"command":   command,
		"output":    string(res.Stdout),
		"error":     strings.TrimSpace(string(res.Stderr)),
	}
	if !res.OK() && out["error"] == "" {
		out["error"] = fmt.Sprintf("exit code %d", res.ExitCode)
	}
	return out, nil
}
