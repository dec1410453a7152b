package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"

	"linkcheck/internal/httpcheck"
)

// terminalPrompt asks the user for a login on the terminal. Concurrent
// checks take turns so prompts never interleave.
type terminalPrompt struct {
	mu           sync.Mutex
	in           *bufio.Reader
	out          io.Writer
	readPassword func() ([]byte, error)
}

func newTerminalPrompt(in *os.File, out io.Writer) *terminalPrompt {
	p := &terminalPrompt{in: bufio.NewReader(in), out: out}
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		p.readPassword = func() ([]byte, error) { return term.ReadPassword(fd) }
	} else {
		p.readPassword = p.readLine
	}
	return p
}

func (p *terminalPrompt) readLine() ([]byte, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

// CredentialFor implements httpcheck.CredentialSource.
func (p *terminalPrompt) CredentialFor(ctx context.Context, target *httpcheck.Target) (httpcheck.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return httpcheck.Credential{}, err
	}

	fmt.Fprintf(p.out, "%s requires authentication\nUsername: ", target.Authority())
	user, err := p.readLine()
	if err != nil {
		return httpcheck.Credential{}, fmt.Errorf("read username: %w", err)
	}
	fmt.Fprint(p.out, "Password: ")
	password, err := p.readPassword()
	fmt.Fprintln(p.out)
	if err != nil {
		return httpcheck.Credential{}, fmt.Errorf("read password: %w", err)
	}
	return httpcheck.Credential{Username: string(user), Password: string(password)}, nil
}

// chainCredentials tries each non-nil source in order and returns the first
// credential found.
func chainCredentials(sources ...httpcheck.CredentialSource) httpcheck.CredentialSource {
	var live []httpcheck.CredentialSource
	for _, s := range sources {
		if s != nil {
			live = append(live, s)
		}
	}
	return httpcheck.CredentialFunc(func(ctx context.Context, target *httpcheck.Target) (httpcheck.Credential, error) {
		var errs []error
		for _, s := range live {
			c, err := s.CredentialFor(ctx, target)
			if err == nil {
				return c, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return httpcheck.Credential{}, fmt.Errorf("no credential source for %s", target.Authority())
		}
		return httpcheck.Credential{}, errors.Join(errs...)
	})
}
