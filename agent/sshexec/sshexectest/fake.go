// Package sshexectest provides a scripted sshexec.Runner for tests.
package sshexectest

import (
	"context"
	"strings"
	"sync"

	"github.com/svdleer/PyPNMGui/agent/sshexec"
)

// Call is one recorded Run.
type Call struct {
	Host sshexec.Host
	Cmd  string
}

// Fake answers commands by the first matching substring rule.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

type rule struct {
	contains string
	res      *sshexec.Result
	err      error
}

// New returns an empty Fake. Unmatched commands exit 127.
func New() *Fake { return &Fake{} }

// On answers any command containing substr with stdout and exit code 0.
func (f *Fake) On(substr, stdout string) *Fake {
	return f.OnResult(substr, &sshexec.Result{Stdout: []byte(stdout)}, nil)
}

// OnResult answers any command containing substr with res and err.
func (f *Fake) OnResult(substr string, res *sshexec.Result, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: substr, res: res, err: err})
	return f
}

// Calls returns the commands run so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Run implements sshexec.Runner.
func (f *Fake) Run(ctx context.Context, h sshexec.Host, cmd string) (*sshexec.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Host: h, Cmd: cmd})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, r := range f.rules {
		if strings.Contains(cmd, r.contains) {
			if r.err != nil {
				return nil, r.err
			}
			out := *r.res
			return &out, nil
		}
	}
	return &sshexec.Result{Stderr: []byte("command not found"), ExitCode: 127}, nil
}
