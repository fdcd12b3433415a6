// Package snmp wraps gosnmp with the small surface the vendor drivers need:
// scalar gets and subtree walks with bounded timeouts, typed errors and
// value coercion left to the callers.
package snmp

import (
	"context"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/ponwatch/ponwatch/types"
)

// Config holds connection parameters for one device.
type Config struct {
	Host      string
	Port      int
	Community string
	Timeout   time.Duration
	Retries   int
}

// Client performs SNMP queries against one device. Not safe for concurrent
// use; each discovery pass owns its own client.
type Client struct {
	cfg  Config
	conn *gosnmp.GoSNMP
}

// NewClient prepares a client. The UDP socket is opened lazily on first use.
func NewClient(cfg Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 161
	}
	if cfg.Community == "" {
		cfg.Community = "public"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 2
	}
	return &Client{cfg: cfg}
}

func (c *Client) connect(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	g := &gosnmp.GoSNMP{
		Target:    c.cfg.Host,
		Port:      uint16(c.cfg.Port), //nolint:gosec // bounded by config validation
		Community: c.cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   c.cfg.Timeout,
		Retries:   c.cfg.Retries,
		Context:   ctx,
	}
	if err := g.Connect(); err != nil {
		return &types.ConnectionError{Op: "snmp connect", Addr: c.cfg.Host, Err: err}
	}
	c.conn = g
	return nil
}

// Get retrieves a single scalar value.
func (c *Client) Get(ctx context.Context, oid string) (interface{}, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	pkt, err := c.conn.Get([]string{oid})
	if err != nil {
		return nil, &types.ConnectionError{Op: "snmp get", Addr: c.cfg.Host, Err: err}
	}
	if len(pkt.Variables) == 0 {
		return nil, &types.ProtocolError{Op: "snmp get", Detail: "no variable for " + oid}
	}
	return coerce(pkt.Variables[0]), nil
}

// Walk traverses the subtree under prefix and returns values keyed by the
// sub-OID suffix (the part after the prefix, without a leading dot).
func (c *Client) Walk(ctx context.Context, prefix string) (map[string]interface{}, error) {
	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	results := make(map[string]interface{})
	err := c.conn.BulkWalk(prefix, func(pdu gosnmp.SnmpPDU) error {
		results[indexSuffix(pdu.Name, prefix)] = coerce(pdu)
		return nil
	})
	if err != nil {
		return nil, &types.ConnectionError{Op: "snmp walk", Addr: c.cfg.Host, Err: err}
	}
	return results, nil
}

// Close releases the UDP socket. Idempotent.
func (c *Client) Close() error {
	if c.conn == nil || c.conn.Conn == nil {
		return nil
	}
	err := c.conn.Conn.Close()
	c.conn = nil
	return err
}

// indexSuffix strips the walk prefix (with or without the leading dot that
// gosnmp adds) from a full OID, leaving the table index.
func indexSuffix(name, prefix string) string {
	n := strings.TrimPrefix(name, ".")
	p := strings.TrimPrefix(prefix, ".")
	if rest, ok := strings.CutPrefix(n, p); ok {
		return strings.TrimPrefix(rest, ".")
	}
	return n
}

func coerce(pdu gosnmp.SnmpPDU) interface{} {
	switch pdu.Type {
	case gosnmp.OctetString:
		if b, ok := pdu.Value.([]byte); ok {
			return b
		}
		return pdu.Value
	case gosnmp.Integer:
		return int64(pdu.Value.(int))
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks:
		return uint64(pdu.Value.(uint))
	case gosnmp.Counter64:
		return pdu.Value.(uint64)
	default:
		return pdu.Value
	}
}

var _ types.SNMPExecutor = (*Client)(nil)
