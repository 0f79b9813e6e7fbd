// Package irc owns the single connection to the IRC network.
//
// A Session dials the server, registers, identifies with NickServ, joins one
// channel and then exposes Send/ProbeAlive/Inbound to the rest of the bot.
// Every inbound PING is answered by the reader goroutine, whatever the
// handshake phase.
package irc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	irclib "gopkg.in/irc.v4"

	logx "relaybot/pkg/logx"
)

// Message is a parsed IRC line.
type Message = irclib.Message

var (
	ErrNotConnected      = errors.New("irc: not connected")
	ErrNotReady          = errors.New("irc: session not ready")
	ErrAlreadyConnected  = errors.New("irc: already connected")
	ErrHandshakeTimeout  = errors.New("irc: handshake timeout")
	ErrConnectionClosed  = errors.New("irc: connection closed")
	ErrRegistrationFatal = errors.New("irc: registration rejected")
)

// DefaultAcceptPhrases are NickServ replies that confirm identification.
var DefaultAcceptPhrases = []string{"Password accepted", "You are now identified"}

type Config struct {
	Server                string
	Port                  int
	TLS                   bool
	TLSInsecureSkipVerify bool

	Nickname string
	Username string
	Realname string
	// Password is the server password (PASS). Optional.
	Password string

	Channel string

	NickServ         string // service nick, default "NickServ"
	NickServPassword string // identification is skipped when empty
	AcceptPhrases    []string

	Oper         bool
	OperPassword string

	// HandshakeTimeout bounds every waiting phase of Connect (and the dial).
	HandshakeTimeout time.Duration
	// WriteTimeout bounds every single write, including ProbeAlive.
	WriteTimeout time.Duration

	// Dial overrides the network dialer (tests use net.Pipe).
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

type Session struct {
	cfg Config
	log logx.Logger

	state   atomic.Int32
	started atomic.Bool

	// wmu serializes writes; the reader goroutine answers PINGs concurrently with Send.
	wmu  sync.Mutex
	conn net.Conn
	w    *irclib.Writer

	inbound chan *Message
	done    chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	readErr   error
}

func New(cfg Config, log logx.Logger) *Session {
	if strings.TrimSpace(cfg.NickServ) == "" {
		cfg.NickServ = "NickServ"
	}
	if len(cfg.AcceptPhrases) == 0 {
		cfg.AcceptPhrases = DefaultAcceptPhrases
	}
	if cfg.Username == "" {
		cfg.Username = cfg.Nickname
	}
	if cfg.Realname == "" {
		cfg.Realname = cfg.Nickname
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Session{cfg: cfg, log: log, done: make(chan struct{})}
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.log.Debug("session state", logx.String("from", prev.String()), logx.String("to", st.String()))
	}
}

// Channel returns the configured channel name.
func (s *Session) Channel() string { return s.cfg.Channel }

// Inbound returns the stream of messages read from the server. It is closed when
// the connection ends; Err then reports why. Before Connect it returns nil.
func (s *Session) Inbound() <-chan *Message { return s.inbound }

// Err returns the error that ended the reader goroutine, if any.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

// Connect dials the server and drives the handshake until the channel is joined.
// Any failure closes the connection and is returned; Connect is not retried.
func (s *Session) Connect(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	addr := net.JoinHostPort(s.cfg.Server, strconv.Itoa(s.cfg.Port))
	s.log.Info("connecting", logx.String("addr", addr), logx.Bool("tls", s.cfg.TLS))

	dctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	conn, err := s.dial(dctx, addr)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	ic := irclib.NewConn(conn)
	s.wmu.Lock()
	s.conn = conn
	s.w = ic.Writer
	s.wmu.Unlock()
	s.inbound = make(chan *Message, 256)
	go s.readLoop(ic.Reader)

	if err := s.handshake(ctx); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

func (s *Session) dial(ctx context.Context, addr string) (net.Conn, error) {
	if s.cfg.Dial != nil {
		return s.cfg.Dial(ctx, "tcp", addr)
	}
	nd := &net.Dialer{KeepAlive: 30 * time.Second}
	if !s.cfg.TLS {
		return nd.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{
		NetDialer: nd,
		Config: &tls.Config{
			ServerName:         s.cfg.Server,
			InsecureSkipVerify: s.cfg.TLSInsecureSkipVerify,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return td.DialContext(ctx, "tcp", addr)
}

func (s *Session) handshake(ctx context.Context) error {
	nick := s.cfg.Nickname

	s.setState(StateRegistering)
	if s.cfg.Password != "" {
		if err := s.write(ctx, "PASS", s.cfg.Password); err != nil {
			return err
		}
	}
	if err := s.write(ctx, "NICK", nick); err != nil {
		return err
	}
	if err := s.write(ctx, "USER", s.cfg.Username, "0", "*", s.cfg.Realname); err != nil {
		return err
	}
	s.log.Info("waiting for server registration")
	if err := s.await(ctx, "welcome", isWelcome); err != nil {
		return err
	}
	s.log.Info("registered with server")

	if s.cfg.NickServPassword != "" {
		s.setState(StateAuthenticating)
		s.log.Info("identifying with services", logx.String("service", s.cfg.NickServ), logx.String("nick", nick))
		if err := s.write(ctx, "PRIVMSG", s.cfg.NickServ, "IDENTIFY "+nick+" "+s.cfg.NickServPassword); err != nil {
			return err
		}
		if err := s.await(ctx, "identification", s.isAccepted); err != nil {
			return err
		}
		s.log.Info("identification accepted")
	}

	s.setState(StateJoining)
	s.log.Info("joining channel", logx.String("channel", s.cfg.Channel))
	if err := s.write(ctx, "JOIN", s.cfg.Channel); err != nil {
		return err
	}
	if err := s.await(ctx, "join", s.isEndOfNames); err != nil {
		return err
	}

	s.setState(StateReady)
	s.log.Info("channel joined", logx.String("channel", s.cfg.Channel))

	if s.cfg.Oper {
		pw := s.cfg.OperPassword
		if pw == "" {
			pw = s.cfg.Password
		}
		s.log.Info("requesting operator privileges")
		if err := s.write(ctx, "OPER", nick, pw); err != nil {
			s.log.Warn("oper request failed", logx.Err(err))
		}
	}
	return nil
}

// await consumes inbound messages until match reports true. Messages that do not
// match are ignored, so out-of-order replies never advance the handshake.
func (s *Session) await(ctx context.Context, phase string, match func(*Message) bool) error {
	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("%w: no %s after %s", ErrHandshakeTimeout, phase, s.cfg.HandshakeTimeout)
		case m, ok := <-s.inbound:
			if !ok {
				if err := s.Err(); err != nil {
					return fmt.Errorf("%w while waiting for %s: %w", ErrConnectionClosed, phase, err)
				}
				return fmt.Errorf("%w while waiting for %s", ErrConnectionClosed, phase)
			}
			if err := fatalReply(m); err != nil {
				return err
			}
			if match(m) {
				return nil
			}
			s.log.Trace("handshake: ignoring message", logx.String("phase", phase), logx.String("command", m.Command))
		}
	}
}

func isWelcome(m *Message) bool { return m.Command == "001" }

func (s *Session) isAccepted(m *Message) bool {
	if m.Command != "NOTICE" {
		return false
	}
	// A prefixed notice must come from the service itself, not from a user.
	if m.Prefix != nil && m.Prefix.Name != "" && !strings.EqualFold(m.Prefix.Name, s.cfg.NickServ) {
		return false
	}
	text := strings.ToLower(trailing(m))
	for _, p := range s.cfg.AcceptPhrases {
		if p != "" && strings.Contains(text, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// isEndOfNames matches RPL_ENDOFNAMES (366) for the configured channel.
func (s *Session) isEndOfNames(m *Message) bool {
	return m.Command == "366" && strings.EqualFold(param(m, 1), s.cfg.Channel)
}

func fatalReply(m *Message) error {
	switch m.Command {
	case "ERROR":
		return fmt.Errorf("%w: server error: %s", ErrRegistrationFatal, trailing(m))
	case "432", "433", "436":
		return fmt.Errorf("%w: nickname %q unavailable: %s", ErrRegistrationFatal, param(m, 1), trailing(m))
	case "464", "465":
		return fmt.Errorf("%w: %s", ErrRegistrationFatal, trailing(m))
	}
	return nil
}

func (s *Session) readLoop(r *irclib.Reader) {
	defer close(s.inbound)
	for {
		m, err := r.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
			}
			return
		}
		if m.Command == "PING" {
			// Keepalive: answered before anything else sees the message.
			if err := s.write(context.Background(), "PONG", m.Params...); err != nil {
				s.log.Warn("pong failed", logx.Err(err))
			}
		}
		select {
		case s.inbound <- m:
		case <-s.done:
			return
		}
	}
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	if s.readErr == nil {
		s.readErr = err
	}
	s.errMu.Unlock()
}

// Send delivers a PRIVMSG to target. It fails when the session is not Ready or the
// write is rejected; success does not imply delivery.
func (s *Session) Send(ctx context.Context, target, text string) error {
	if s.State() != StateReady {
		return ErrNotReady
	}
	return s.write(ctx, "PRIVMSG", target, sanitize(text))
}

// ProbeAlive writes a PING and reports whether the write succeeded. It only
// proves the local connection is writable.
func (s *Session) ProbeAlive(ctx context.Context) bool {
	s.log.Debug("connection check")
	if err := s.write(ctx, "PING", s.cfg.Nickname); err != nil {
		s.log.Error("connection check failed", logx.Err(err))
		return false
	}
	return true
}

func (s *Session) write(ctx context.Context, cmd string, params ...string) error {
	m := &Message{Command: cmd, Params: params}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.conn == nil || s.w == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.conn.SetWriteDeadline(deadline)
	err := s.w.WriteMessage(m)
	_ = s.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("write %s: %w", cmd, err)
	}
	if s.log.Enabled(logx.LevelTrace) {
		s.log.Trace("sent", logx.String("line", redact(m)))
	}
	return nil
}

// Close sends QUIT when possible and tears the connection down.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.State() == StateReady {
			qctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = s.write(qctx, "QUIT", "shutting down")
			cancel()
		}
		close(s.done)

		s.wmu.Lock()
		if s.conn != nil {
			err = s.conn.Close()
			s.conn = nil
			s.w = nil
		}
		s.wmu.Unlock()
		s.setState(StateDisconnected)
	})
	return err
}

func param(m *Message, i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

func trailing(m *Message) string {
	if len(m.Params) == 0 {
		return ""
	}
	return m.Params[len(m.Params)-1]
}

// sanitize keeps a message on one protocol line.
func sanitize(text string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(text)
}

func redact(m *Message) string {
	switch m.Command {
	case "PASS", "OPER":
		return m.Command + " ***"
	case "PRIVMSG":
		if strings.HasPrefix(strings.ToUpper(trailing(m)), "IDENTIFY ") {
			return "PRIVMSG " + param(m, 0) + " :IDENTIFY ***"
		}
	}
	return m.String()
}
