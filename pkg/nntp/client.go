// Package nntp is the wire client for posting and fetching Usenet
// articles: a single-connection protocol codec (this file) plus a
// health-scored connection pool across one or more servers (pool.go). It is
// grounded on original_source's UnifiedNNTPClient (connect/authenticate/
// post_article/retrieve_article/select_group/check_message_exists), ported
// from a raw-socket client to net/textproto's line-oriented Reader/Writer
// and crypto/tls for the encrypted case.
package nntp

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/kraklabs/usenetsync/pkg/retry"
)

// ProtocolError is an NNTP response line that failed the caller's expected
// status code, with the code extracted for pkg/retry's policy lookup.
type ProtocolError struct {
	Code int
	Line string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("nntp: %s", e.Line) }

// AsCodedError wraps err as a retry.CodedError if it is a *ProtocolError,
// otherwise returns err unchanged (transport-class for pkg/retry).
func AsCodedError(err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return retry.NewCodedError(pe.Code, err)
	}
	return err
}

// ServerConfig describes one NNTP server endpoint and its credentials.
type ServerConfig struct {
	Name     string
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	Timeout  time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Port == 0 {
		if c.UseTLS {
			c.Port = 563
		} else {
			c.Port = 119
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Conn is one authenticated NNTP connection.
type Conn struct {
	cfg           ServerConfig
	netConn       net.Conn
	text          *textproto.Conn
	currentGroup  string
	authenticated bool
}

// Dial opens a new connection to cfg, reads the greeting, and authenticates
// if credentials are set.
func Dial(cfg ServerConfig) (*Conn, error) {
	cfg.applyDefaults()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialer := net.Dialer{Timeout: cfg.Timeout}
	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("nntp: dial %s: %w", addr, err)
	}

	var netConn net.Conn = raw
	if cfg.UseTLS {
		netConn = tls.Client(raw, &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12})
	}

	text := textproto.NewConn(netConn)
	c := &Conn{cfg: cfg, netConn: netConn, text: text}

	if _, err := c.readStatus(200); err != nil {
		c.Close()
		return nil, fmt.Errorf("nntp: greeting: %w", err)
	}

	if cfg.Username != "" {
		if err := c.authenticate(cfg.Username, cfg.Password); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func (c *Conn) authenticate(username, password string) error {
	line, err := c.command("AUTHINFO USER %s", username)
	if err != nil {
		return fmt.Errorf("nntp: authinfo user: %w", err)
	}
	code := statusCode(line)
	if code == 281 {
		c.authenticated = true
		return nil
	}
	if code != 381 {
		return AsCodedError(&ProtocolError{Code: code, Line: line})
	}

	line, err = c.command("AUTHINFO PASS %s", password)
	if err != nil {
		return fmt.Errorf("nntp: authinfo pass: %w", err)
	}
	if statusCode(line) != 281 {
		return AsCodedError(&ProtocolError{Code: statusCode(line), Line: line})
	}
	c.authenticated = true
	return nil
}

// Post sends article (already-formatted headers + blank line + body,
// including any yEnc-encoded payload) and returns nil once the server
// confirms the posting (240), or a coded error on rejection (e.g. 441).
func (c *Conn) Post(article []byte) error {
	line, err := c.command("POST")
	if err != nil {
		return fmt.Errorf("nntp: post: %w", err)
	}
	if statusCode(line) != 340 {
		return AsCodedError(&ProtocolError{Code: statusCode(line), Line: line})
	}

	dw := c.text.DotWriter()
	if _, err := dw.Write(article); err != nil {
		dw.Close()
		return fmt.Errorf("nntp: write article body: %w", err)
	}
	if err := dw.Close(); err != nil {
		return fmt.Errorf("nntp: close article body: %w", err)
	}

	resp, err := c.text.ReadLine()
	if err != nil {
		return fmt.Errorf("nntp: read post response: %w", err)
	}
	if statusCode(resp) != 240 {
		return AsCodedError(&ProtocolError{Code: statusCode(resp), Line: resp})
	}
	return nil
}

// Article fetches the raw article (headers + body, dot-unstuffed) for
// messageID, returning ErrNotFound if the server has no such article.
func (c *Conn) Article(messageID string) ([]byte, error) {
	line, err := c.command("ARTICLE %s", messageID)
	if err != nil {
		return nil, fmt.Errorf("nntp: article: %w", err)
	}
	code := statusCode(line)
	if code == 430 {
		return nil, ErrNotFound
	}
	if code != 220 {
		return nil, AsCodedError(&ProtocolError{Code: code, Line: line})
	}

	var body []byte
	dr := c.text.DotReader()
	buf := make([]byte, 32*1024)
	for {
		n, err := dr.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if err != nil {
			break
		}
	}
	return body, nil
}

// Stat checks whether messageID exists on the server without fetching it.
func (c *Conn) Stat(messageID string) (bool, error) {
	line, err := c.command("STAT %s", messageID)
	if err != nil {
		return false, fmt.Errorf("nntp: stat: %w", err)
	}
	code := statusCode(line)
	if code == 430 {
		return false, nil
	}
	if code != 223 {
		return false, AsCodedError(&ProtocolError{Code: code, Line: line})
	}
	return true, nil
}

// GroupInfo is the parsed response to a GROUP command.
type GroupInfo struct {
	Name  string
	Count int
	First int
	Last  int
}

// SelectGroup issues GROUP newsgroup and parses the article-range response.
func (c *Conn) SelectGroup(newsgroup string) (GroupInfo, error) {
	line, err := c.command("GROUP %s", newsgroup)
	if err != nil {
		return GroupInfo{}, fmt.Errorf("nntp: group: %w", err)
	}
	if statusCode(line) != 211 {
		return GroupInfo{}, AsCodedError(&ProtocolError{Code: statusCode(line), Line: line})
	}
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return GroupInfo{}, fmt.Errorf("nntp: malformed GROUP response: %q", line)
	}
	count, _ := strconv.Atoi(fields[1])
	first, _ := strconv.Atoi(fields[2])
	last, _ := strconv.Atoi(fields[3])
	c.currentGroup = newsgroup
	return GroupInfo{Name: fields[4], Count: count, First: first, Last: last}, nil
}

// Ping sends DATE as a lightweight liveness probe.
func (c *Conn) Ping() error {
	line, err := c.command("DATE")
	if err != nil {
		return err
	}
	if statusCode(line) != 111 {
		return AsCodedError(&ProtocolError{Code: statusCode(line), Line: line})
	}
	return nil
}

// Close sends QUIT (best-effort) and closes the underlying connection.
func (c *Conn) Close() error {
	if c.text != nil {
		_, _ = c.text.Cmd("QUIT")
	}
	return c.netConn.Close()
}

func (c *Conn) command(format string, args ...any) (string, error) {
	id, err := c.text.Cmd(format, args...)
	if err != nil {
		return "", err
	}
	c.text.StartResponse(id)
	defer c.text.EndResponse(id)
	return c.text.ReadLine()
}

func (c *Conn) readStatus(want int) (string, error) {
	line, err := c.text.ReadLine()
	if err != nil {
		return "", err
	}
	if statusCode(line) != want {
		return line, AsCodedError(&ProtocolError{Code: statusCode(line), Line: line})
	}
	return line, nil
}

func statusCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0
	}
	return code
}

// ErrNotFound is returned by Article when the server has no such message.
var ErrNotFound = errors.New("nntp: article not found")
