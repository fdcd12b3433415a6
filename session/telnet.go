package session

import (
	"io"
	"net"
	"time"
)

// Telnet protocol bytes (RFC 854).
const (
	telnetIAC  = 255
	telnetDont = 254
	telnetDo   = 253
	telnetWont = 252
	telnetWill = 251
	telnetSB   = 250
	telnetSE   = 240
)

// telnetConn wraps a raw TCP connection and strips telnet option
// negotiation from the inbound stream. Every option the device offers or
// requests is refused (DONT/WONT), which leaves the session in plain NVT
// mode - all the OLT shells we talk to are happy with that.
type telnetConn struct {
	conn net.Conn
	buf  []byte
}

func newTelnetConn(conn net.Conn) *telnetConn {
	return &telnetConn{conn: conn, buf: make([]byte, 4096)}
}

func (t *telnetConn) Read(p []byte) (int, error) {
	for {
		n, err := t.conn.Read(t.buf)
		if n > 0 {
			data, reply := t.filter(t.buf[:n])
			if len(reply) > 0 {
				// Best effort; a failed refusal surfaces on the next read.
				_, _ = t.conn.Write(reply)
			}
			if len(data) > 0 {
				m := copy(p, data)
				return m, err
			}
		}
		if err != nil {
			return 0, err
		}
	}
}

// filter splits an inbound chunk into payload bytes and the negotiation
// replies we owe the peer. Subnegotiation blocks (IAC SB ... IAC SE) are
// discarded wholesale.
func (t *telnetConn) filter(in []byte) (data, reply []byte) {
	data = make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		b := in[i]
		if b != telnetIAC {
			data = append(data, b)
			continue
		}
		if i+1 >= len(in) {
			break
		}
		i++
		switch in[i] {
		case telnetWill, telnetWont:
			if i+1 < len(in) {
				i++
				reply = append(reply, telnetIAC, telnetDont, in[i])
			}
		case telnetDo, telnetDont:
			if i+1 < len(in) {
				i++
				reply = append(reply, telnetIAC, telnetWont, in[i])
			}
		case telnetSB:
			for i+1 < len(in) {
				i++
				if in[i] == telnetIAC && i+1 < len(in) && in[i+1] == telnetSE {
					i++
					break
				}
			}
		case telnetIAC:
			data = append(data, telnetIAC)
		}
	}
	return data, reply
}

func (t *telnetConn) Write(p []byte) (int, error) {
	return t.conn.Write(p)
}

func (t *telnetConn) Close() error {
	return t.conn.Close()
}

// dialTelnet opens a TCP connection and returns the negotiation-filtered
// stream plus a closer for the underlying socket.
func dialTelnet(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return newTelnetConn(conn), nil
}
