package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	expect "github.com/google/goexpect"
)

// fakeShell pairs a Session with the far end of an in-memory connection so
// tests can script device replies.
func fakeShell(t *testing.T) (*Session, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	done := make(chan struct{})
	var stop sync.Once
	exp, _, err := expect.SpawnGeneric(&expect.GenOptions{
		In:  client,
		Out: client,
		Wait: func() error {
			<-done
			return nil
		},
		Close: func() error {
			stop.Do(func() { close(done) })
			return client.Close()
		},
		Check: func() bool { return true },
	}, 5*time.Second, expect.CheckDuration(10*time.Millisecond))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	s := newSession(exp, DefaultPrompt, 2*time.Second)
	t.Cleanup(func() {
		_ = s.Close()
		_ = server.Close()
	})
	return s, server
}

func TestExecutePromptBoundaryExtraction(t *testing.T) {
	s, server := fakeShell(t)

	go func() {
		r := bufio.NewReader(server)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		_, _ = server.Write([]byte("cmd\r\nLINE1\r\nLINE2\r\nDEV#"))
	}()

	out, err := s.Execute(context.Background(), "cmd", time.Second)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "LINE1\nLINE2" {
		t.Fatalf("got %q, want %q", out, "LINE1\nLINE2")
	}
}

func TestExecuteTimeoutReturnsPartialOutput(t *testing.T) {
	s, server := fakeShell(t)

	go func() {
		r := bufio.NewReader(server)
		if _, err := r.ReadString('\n'); err != nil {
			return
		}
		// No prompt ever arrives.
		_, _ = server.Write([]byte("slowcmd\r\npartial line\r\n"))
	}()

	out, err := s.Execute(context.Background(), "slowcmd", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error, got: %v", err)
	}
	if out != "partial line" {
		t.Fatalf("got %q, want %q", out, "partial line")
	}
}

func TestExecuteSerializesCommands(t *testing.T) {
	s, server := fakeShell(t)

	go func() {
		r := bufio.NewReader(server)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSpace(line)
			reply := fmt.Sprintf("%s\r\nRESULT-%s\r\nDEV#", cmd, cmd)
			if _, err := server.Write([]byte(reply)); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("show-%d", i)
			out, err := s.Execute(context.Background(), cmd, time.Second)
			if err != nil {
				errs <- err
				return
			}
			if out != "RESULT-"+cmd {
				errs <- fmt.Errorf("command %s got interleaved output %q", cmd, out)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExecuteAfterClose(t *testing.T) {
	s, _ := fakeShell(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := s.Execute(context.Background(), "show", time.Second); err == nil {
		t.Fatal("expected error executing on closed session")
	}
}

func TestTelnetFilter(t *testing.T) {
	tc := newTelnetConn(nil)

	tests := []struct {
		name      string
		in        []byte
		wantData  string
		wantReply []byte
	}{
		{
			name:     "plain text",
			in:       []byte("hello"),
			wantData: "hello",
		},
		{
			name:      "will echo refused",
			in:        []byte{telnetIAC, telnetWill, 1, 'o', 'k'},
			wantData:  "ok",
			wantReply: []byte{telnetIAC, telnetDont, 1},
		},
		{
			name:      "do suppress-go-ahead refused",
			in:        []byte{telnetIAC, telnetDo, 3},
			wantData:  "",
			wantReply: []byte{telnetIAC, telnetWont, 3},
		},
		{
			name:     "subnegotiation discarded",
			in:       append([]byte{telnetIAC, telnetSB, 31, 0, 80, 0, 24, telnetIAC, telnetSE}, []byte("after")...),
			wantData: "after",
		},
		{
			name:     "escaped iac is data",
			in:       []byte{'a', telnetIAC, telnetIAC, 'b'},
			wantData: "a\xffb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, reply := tc.filter(tt.in)
			if string(data) != tt.wantData {
				t.Errorf("data = %q, want %q", data, tt.wantData)
			}
			if string(reply) != string(tt.wantReply) {
				t.Errorf("reply = %v, want %v", reply, tt.wantReply)
			}
		})
	}
}
