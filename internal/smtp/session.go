package smtp

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/mailbridge/internal/relay"
	"github.com/shineum/mailbridge/internal/transport"
)

// Session states for the SMTP state machine.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout is the maximum time a session can remain idle before being closed.
const idleTimeout = 60 * time.Second

// DefaultMaxMessageSize is used when no message size limit is configured (10 MB).
const DefaultMaxMessageSize = 10 * 1024 * 1024

// Deliverer accepts a complete message with its envelope.
// *relay.Relay implements it.
type Deliverer interface {
	Deliver(ctx context.Context, raw []byte, env relay.Envelope) error
}

// SessionConfig holds what a session needs from its server.
type SessionConfig struct {
	Hostname       string
	Auth           *Authenticator
	Deliverer      Deliverer
	TLSConfig      *tls.Config
	MaxMessageSize int64
}

// Session represents a single SMTP client connection and manages the
// SMTP protocol state machine.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int
	cfg    SessionConfig

	tlsActive bool

	// Current transaction
	mailFrom string
	rcptTo   []string
}

// NewSession creates a new SMTP session for the given connection.
func NewSession(conn net.Conn, cfg SessionConfig) *Session {
	if cfg.Auth == nil {
		cfg.Auth = NewAuthenticator("", "")
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		state:  stateConnected,
		cfg:    cfg,
	}
}

// Handle runs the SMTP session, processing commands until the client
// disconnects or an error occurs.
func (s *Session) Handle(ctx context.Context) {
	defer s.conn.Close()

	s.writeLine("220 %s ESMTP mailbridge", s.cfg.Hostname)

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		line, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}
		if line == "" {
			continue
		}

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(ctx, cmd, arg); done {
			return
		}
	}
}

// handleCommand processes a single SMTP command and returns true if the session should end.
func (s *Session) handleCommand(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA(ctx)
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

// handleEHLO processes EHLO/HELO commands.
func (s *Session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}

	s.resetTransaction()
	s.state = stateGreeted

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.cfg.Hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.cfg.Hostname, arg)
	if s.cfg.TLSConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.cfg.Auth.Enabled() {
		s.writeLine("250-AUTH PLAIN LOGIN")
	}
	s.writeLine("250-8BITMIME")
	s.writeLine("250-SIZE %d", s.cfg.MaxMessageSize)
	s.writeLine("250 OK")
}

// handleSTARTTLS upgrades the connection to TLS. The client must greet again.
func (s *Session) handleSTARTTLS() {
	if s.cfg.TLSConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Error("TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	s.resetTransaction()
}

// handleAUTH processes AUTH commands (PLAIN and LOGIN mechanisms).
func (s *Session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if !s.cfg.Auth.Enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if s.state >= stateAuthOK {
		s.writeLine("503 Already authenticated")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")

	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.writeLine("501 Authentication cancelled")
	case err != nil:
		slog.Warn("SMTP authentication failed",
			"mechanism", strings.ToUpper(mechanism),
			"remote", s.conn.RemoteAddr().String(),
		)
		s.writeLine("535 Authentication failed")
	default:
		s.state = stateAuthOK
		s.writeLine("235 Authentication successful")
	}
}

var errAuthCancelled = errors.New("authentication cancelled")

// challenge sends a 334 continuation and reads the client's response.
func (s *Session) challenge(prompt string) (string, error) {
	if prompt == "" {
		s.writeLine("334")
	} else {
		s.writeLine("334 %s", prompt)
	}
	line, err := s.readLine()
	if err != nil {
		return "", err
	}
	if line == "*" {
		return "", errAuthCancelled
	}
	return line, nil
}

// authPlain handles AUTH PLAIN with or without an initial response.
func (s *Session) authPlain(initial string) error {
	if initial == "*" {
		return errAuthCancelled
	}
	if initial == "" {
		var err error
		if initial, err = s.challenge(""); err != nil {
			return err
		}
	}
	return s.cfg.Auth.VerifyPlain(initial)
}

// authLogin handles the AUTH LOGIN challenge-response exchange.
func (s *Session) authLogin() error {
	user, err := s.challenge("VXNlcm5hbWU6") // "Username:"
	if err != nil {
		return err
	}
	pass, err := s.challenge("UGFzc3dvcmQ6") // "Password:"
	if err != nil {
		return err
	}
	return s.cfg.Auth.VerifyLogin(user, pass)
}

// handleMAIL processes the MAIL FROM command, including the SIZE parameter.
func (s *Session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO/HELO first")
		return
	}
	if s.cfg.Auth.Enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if s.state >= stateMailFrom {
		s.writeLine("503 Nested MAIL command")
		return
	}

	if !hasPrefixFold(arg, "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	addr, params, ok := parsePath(arg[len("FROM:"):])
	if !ok {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	if size, found := sizeParam(params); found && size > s.cfg.MaxMessageSize {
		s.writeLine("552 Message size exceeds fixed maximum message size")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

// handleRCPT processes the RCPT TO command.
func (s *Session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}

	if !hasPrefixFold(arg, "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	addr, _, ok := parsePath(arg[len("TO:"):])
	if !ok || addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the message, hands it to the deliverer and replies with
// the outcome. It returns true if the connection broke mid-transfer.
func (s *Session) handleDATA(ctx context.Context) bool {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return false
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	raw, tooLarge, err := s.readData()
	if err != nil {
		slog.Error("error reading DATA", "error", err)
		return true
	}

	env := relay.Envelope{From: s.mailFrom, Recipients: s.rcptTo}
	s.resetTransaction()

	if tooLarge {
		slog.Warn("message exceeds size limit", "limit", s.cfg.MaxMessageSize)
		s.writeLine("552 Message size exceeds fixed maximum message size")
		return false
	}

	err = s.cfg.Deliverer.Deliver(ctx, raw, env)

	// Delivery may outlast the idle deadline set before the last read.
	if deadlineErr := s.conn.SetDeadline(time.Now().Add(idleTimeout)); deadlineErr != nil {
		slog.Error("failed to set connection deadline", "error", deadlineErr)
		return true
	}

	if err != nil {
		code, text := replyFor(err)
		slog.Error("delivery failed",
			"from", env.From,
			"recipients", len(env.Recipients),
			"code", code,
			"error", err,
		)
		s.writeLine("%d %s", code, text)
		return false
	}

	s.writeLine("250 OK message queued")
	return false
}

// readData reads dot-stuffed message data up to the terminating ".".
// Data past the size limit is drained and discarded.
func (s *Session) readData() (raw []byte, tooLarge bool, err error) {
	var buf bytes.Buffer
	for {
		line, err := s.readRawLine()
		if err != nil {
			return nil, false, err
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}

		if tooLarge {
			continue
		}
		if int64(buf.Len()+len(line)) > s.cfg.MaxMessageSize {
			tooLarge = true
			buf.Reset()
			continue
		}
		buf.WriteString(line)
	}
	return buf.Bytes(), tooLarge, nil
}

// replyFor maps a delivery failure to an SMTP reply.
func replyFor(err error) (int, string) {
	var protoErr transport.ProtocolError
	switch {
	case errors.Is(err, relay.ErrMalformedMessage):
		return 550, "Failed to process message"
	case errors.Is(err, relay.ErrNoRecipients):
		return 554, "No valid recipients"
	case errors.As(err, &protoErr):
		return protoErr.SMTPCode(), singleLine(protoErr.Error())
	default:
		return transport.CodeSendFailed, "Temporary failure, please try again later"
	}
}

// singleLine flattens text so it fits on one reply line.
func singleLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resetTransaction clears the current mail transaction state without
// affecting the session state (greeting, auth).
func (s *Session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil

	if s.cfg.Auth.Enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// readRawLine reads one line including its terminator, refreshing the idle deadline.
func (s *Session) readRawLine() (string, error) {
	if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
		return "", err
	}
	return s.reader.ReadString('\n')
}

// readLine reads one line with its terminator removed.
func (s *Session) readLine() (string, error) {
	line, err := s.readRawLine()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine writes a formatted line to the client, followed by \r\n.
func (s *Session) writeLine(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		slog.Error("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Error("failed to flush to client", "error", err)
	}
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), arg
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// parsePath extracts the address from a MAIL/RCPT path argument and
// returns any ESMTP parameters that follow it. "<>" is the null path.
func parsePath(s string) (addr, params string, ok bool) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return "", "", false
		}
		return s[1:end], strings.TrimSpace(s[end+1:]), true
	}

	addr, params, _ = strings.Cut(s, " ")
	if addr == "" {
		return "", "", false
	}
	return addr, strings.TrimSpace(params), true
}

// sizeParam returns the value of a SIZE=n ESMTP parameter.
func sizeParam(params string) (int64, bool) {
	for _, p := range strings.Fields(params) {
		key, value, found := strings.Cut(p, "=")
		if !found || !strings.EqualFold(key, "SIZE") {
			continue
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
