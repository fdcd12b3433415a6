// Package session provides a serialized interactive shell session against an
// OLT management CLI. All command execution is funneled through a single
// drain loop so that concurrent callers can never interleave commands on the
// wire - a shell session has no way to tag replies with request IDs.
package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	expect "github.com/google/goexpect"
	"golang.org/x/crypto/ssh"

	"github.com/ponwatch/ponwatch/types"
)

// DefaultPrompt matches common OLT prompts like "hostname#" or "hostname>".
var DefaultPrompt = regexp.MustCompile(`(?m)[\w\-\[\]()]+[#>]\s*$`)

var (
	loginPrompt    = regexp.MustCompile(`(?i)(username|login)\s*:`)
	passwordPrompt = regexp.MustCompile(`(?i)password\s*:`)
)

// Config holds everything needed to open a session.
type Config struct {
	Host      string
	Port      int
	Transport types.Transport
	Username  string
	Password  string

	// Prompt overrides DefaultPrompt for vendors with unusual shells.
	Prompt *regexp.Regexp

	// Timeout bounds the dial, the login handshake and any Execute call
	// that does not supply its own timeout. Defaults to 30s.
	Timeout time.Duration
}

// Session is one open shell connection. Safe for concurrent use; commands
// are executed strictly in submission order.
type Session struct {
	exp     *expect.GExpect
	prompt  *regexp.Regexp
	timeout time.Duration

	reqs      chan request
	closed    chan struct{}
	closeOnce sync.Once

	sshClient *ssh.Client
}

type request struct {
	command string
	timeout time.Duration
	resp    chan response
}

type response struct {
	output string
	err    error
}

// Dial opens the transport, performs the login handshake and waits for the
// first shell prompt. Refusal, bad credentials and handshake timeouts all
// surface as *types.ConnectionError.
func Dial(cfg Config) (*Session, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	prompt := cfg.Prompt
	if prompt == nil {
		prompt = DefaultPrompt
	}

	port := cfg.Port
	if port == 0 {
		if cfg.Transport == types.TransportSSH {
			port = 22
		} else {
			port = 23
		}
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, port)

	var (
		exp       *expect.GExpect
		sshClient *ssh.Client
		err       error
	)
	switch cfg.Transport {
	case types.TransportSSH:
		exp, sshClient, err = spawnSSH(cfg, addr)
	case types.TransportTelnet, "":
		exp, err = spawnTelnet(cfg, addr)
	default:
		return nil, &types.ConfigError{Reason: fmt.Sprintf("unsupported CLI transport %q", cfg.Transport)}
	}
	if err != nil {
		return nil, err
	}

	// Wait for the initial prompt before accepting commands.
	if _, _, err := exp.Expect(prompt, cfg.Timeout); err != nil {
		_ = exp.Close()
		if sshClient != nil {
			_ = sshClient.Close()
		}
		return nil, &types.ConnectionError{Op: "login", Addr: addr, Err: err}
	}

	s := newSession(exp, prompt, cfg.Timeout)
	s.sshClient = sshClient
	return s, nil
}

func newSession(exp *expect.GExpect, prompt *regexp.Regexp, timeout time.Duration) *Session {
	s := &Session{
		exp:     exp,
		prompt:  prompt,
		timeout: timeout,
		reqs:    make(chan request),
		closed:  make(chan struct{}),
	}
	go s.drain()
	return s
}

func spawnTelnet(cfg Config, addr string) (*expect.GExpect, error) {
	rwc, err := dialTelnet(addr, cfg.Timeout)
	if err != nil {
		return nil, &types.ConnectionError{Op: "dial telnet", Addr: addr, Err: err}
	}

	done := make(chan struct{})
	var stop sync.Once
	exp, _, err := expect.SpawnGeneric(&expect.GenOptions{
		In:  rwc,
		Out: rwc,
		Wait: func() error {
			<-done
			return nil
		},
		Close: func() error {
			stop.Do(func() { close(done) })
			return rwc.Close()
		},
		Check: func() bool { return true },
	}, cfg.Timeout, expect.CheckDuration(200*time.Millisecond))
	if err != nil {
		_ = rwc.Close()
		return nil, &types.ConnectionError{Op: "spawn telnet", Addr: addr, Err: err}
	}

	// Interactive login. The prompt regexes are forgiving on purpose:
	// C-Data asks for "Username:", BDCOM for "login:".
	if cfg.Username != "" {
		if err := negotiateLogin(exp, cfg); err != nil {
			_ = exp.Close()
			return nil, &types.ConnectionError{Op: "login", Addr: addr, Err: err}
		}
	}
	return exp, nil
}

func negotiateLogin(exp *expect.GExpect, cfg Config) error {
	if _, _, err := exp.Expect(loginPrompt, cfg.Timeout); err != nil {
		return fmt.Errorf("no login prompt: %w", err)
	}
	if err := exp.Send(cfg.Username + "\n"); err != nil {
		return err
	}
	if _, _, err := exp.Expect(passwordPrompt, cfg.Timeout); err != nil {
		return fmt.Errorf("no password prompt: %w", err)
	}
	return exp.Send(cfg.Password + "\n")
}

func spawnSSH(cfg Config, addr string) (*expect.GExpect, *ssh.Client, error) {
	// Some OLTs only offer keyboard-interactive, so register both.
	keyboardInteractive := ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = cfg.Password
		}
		return answers, nil
	})
	sshConfig := &ssh.ClientConfig{
		User: cfg.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			keyboardInteractive,
		},
		Timeout:         cfg.Timeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // OLT management VLANs, no PKI
	}

	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, nil, &types.ConnectionError{Op: "dial ssh", Addr: addr, Err: err}
	}
	exp, _, err := expect.SpawnSSH(client, cfg.Timeout,
		expect.Verbose(false),
		expect.CheckDuration(200*time.Millisecond),
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, &types.ConnectionError{Op: "spawn ssh", Addr: addr, Err: err}
	}
	return exp, client, nil
}

// Execute submits a command to the session's FIFO queue and waits for its
// reply. If the prompt does not reappear within timeout, the partial output
// buffered so far is returned with a nil error - callers decide whether
// partial output is usable. A zero timeout uses the session default.
func (s *Session) Execute(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = s.timeout
	}
	req := request{command: command, timeout: timeout, resp: make(chan response, 1)}

	select {
	case s.reqs <- req:
	case <-s.closed:
		return "", errors.New("session closed")
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-req.resp:
		return r.output, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// drain serializes command round trips: one command's send/expect/extract
// completes before the next is sent.
func (s *Session) drain() {
	for {
		select {
		case <-s.closed:
			return
		case req := <-s.reqs:
			req.resp <- s.roundTrip(req.command, req.timeout)
		}
	}
}

func (s *Session) roundTrip(command string, timeout time.Duration) response {
	if err := s.exp.Send(command + "\n"); err != nil {
		return response{err: fmt.Errorf("send %q: %w", command, err)}
	}

	out, _, err := s.exp.Expect(s.prompt, timeout)
	if err != nil {
		var te expect.TimeoutError
		if errors.As(err, &te) {
			// Timeout is not an error for this primitive: hand back
			// whatever arrived and let the caller judge.
			return response{output: s.clean(out, command)}
		}
		return response{output: s.clean(out, command), err: fmt.Errorf("command %q: %w", command, err)}
	}
	return response{output: s.clean(out, command)}
}

// clean strips the echoed command line and any prompt lines from a reply,
// normalizing line endings.
func (s *Session) clean(output, command string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "\n")

	var kept []string
	for i, line := range strings.Split(output, "\n") {
		if i == 0 && strings.Contains(line, command) {
			continue
		}
		if s.prompt.MatchString(strings.TrimSpace(line)) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// Close tears down the session. Idempotent; errors from an already
// half-dead transport are swallowed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.exp.Close()
		if s.sshClient != nil {
			_ = s.sshClient.Close()
		}
	})
	return nil
}

var _ types.CLIExecutor = (*Session)(nil)
