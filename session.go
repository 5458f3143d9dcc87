package ftpcore

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"

	"github.com/ftplab/ftpcore/internal/trace"
)

// Session is an FTP control connection: it dials the server, negotiates
// transport security, authenticates, executes commands and parses
// replies, and hands out data connections for transfers.
//
// All methods are safe for concurrent use; commands are strictly
// serialized under a session-wide mutex, since the protocol has no
// pipelining. For parallel transfers, use Clone to obtain sibling
// sessions.
type Session struct {
	cfg    *Config
	id     string
	bus    *CertValidationBus
	logger *slog.Logger
	tracer *trace.Tracer

	mu        sync.Mutex
	conn      *lineConn
	connected bool
	disposed  bool
	isClone   bool

	// enc is the control-channel text encoding; nil means ASCII.
	enc     encoding.Encoding
	encName string

	feats      *featureSet
	system     string
	curType    DataType
	protActive bool

	// Sticky fallback memos for the auto data-channel modes.
	epsvDisabled bool
	eprtDisabled bool

	// openChannels counts live data connections; the keep-alive loop
	// must not write to the control stream while one is open.
	openChannels int

	noopQuit chan struct{}
}

// NewSession creates a disconnected session for the given configuration.
// The config is retained by reference: fields may be mutated later and
// take effect on subsequent operations.
func NewSession(cfg *Config) *Session {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.fillDefaults()

	s := &Session{
		cfg:     cfg,
		id:      uuid.NewString(),
		bus:     NewCertValidationBus(),
		feats:   &featureSet{},
		curType: TypeASCII,
		enc:     cfg.TextEncoding,
		tracer:  trace.New(cfg.TraceWriter, cfg.TraceColor),
	}

	if cfg.TextEncoding != nil {
		s.encName = fmt.Sprint(cfg.TextEncoding)
	} else {
		s.encName = "ASCII"
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.logger = logger.With("session", s.id[:8])

	s.bus.Subscribe(SystemTrustPolicy)
	return s
}

// ID returns the session's unique identifier. Clones get their own.
func (s *Session) ID() string { return s.id }

// Config returns the live configuration. Mutations take effect on
// subsequent operations; do not mutate while an operation is in flight.
func (s *Session) Config() *Config { return s.cfg }

// ValidationBus returns the certificate validation dispatch point. A new
// session starts with SystemTrustPolicy subscribed; Clear it to install
// a custom policy.
func (s *Session) ValidationBus() *CertValidationBus { return s.bus }

// IsClone reports whether this session was produced by Clone. The
// marker is set at creation time and never changes.
func (s *Session) IsClone() bool { return s.isClone }

// Connected reports whether the control connection is established.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// System returns the server's SYST banner, recorded during Connect.
func (s *Session) System() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.system
}

// Encoding returns the name of the current control-channel encoding.
func (s *Session) Encoding() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.encName
}

// Capabilities returns the feature bitset from the FEAT exchange.
func (s *Session) Capabilities() Feature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feats.caps
}

// HasFeature reports whether the server advertised the capability.
func (s *Session) HasFeature(f Feature) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feats.has(f)
}

// HashAlgorithms returns the algorithms advertised in the HASH feature.
func (s *Session) HashAlgorithms() []HashAlgorithm {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HashAlgorithm, len(s.feats.hashAlgos))
	copy(out, s.feats.hashAlgos)
	return out
}

// DefaultHashAlgorithm returns the server's default HASH algorithm, or 0
// if none was marked.
func (s *Session) DefaultHashAlgorithm() HashAlgorithm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feats.defaultHash
}

// Connect establishes the control connection, negotiates TLS according
// to the encryption mode, authenticates, and discovers capabilities.
// Calling Connect on a connected session disconnects first.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	if s.disposed {
		return ErrAlreadyDisposed
	}
	if s.cfg.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfiguration)
	}
	if s.connected {
		if err := s.disconnectLocked(); err != nil {
			s.logger.Debug("disconnect before reconnect failed", "err", err)
		}
	}

	conn := &lineConn{
		connectTimeout: s.cfg.ConnectTimeout,
		readTimeout:    s.cfg.ReadTimeout,
		pollInterval:   s.cfg.PollInterval,
	}

	s.logger.Debug("connecting", "host", s.cfg.Host, "port", s.cfg.port(), "encryption", s.cfg.Encryption)
	if err := conn.dial(s.cfg.Host, s.cfg.port(), s.cfg.IPVersion); err != nil {
		return err
	}
	s.conn = conn
	s.curType = TypeASCII

	ok := false
	defer func() {
		if !ok {
			_ = conn.close()
			s.conn = nil
			s.connected = false
		}
	}()

	if err := conn.setKeepAlive(s.cfg.KeepAlive); err != nil {
		s.logger.Debug("setting keep-alive failed", "err", err)
	}

	if s.cfg.Encryption == EncryptionImplicit {
		if err := conn.activateTLS(s.cfg, s.bus); err != nil {
			return err
		}
	}

	greeting, err := s.readReplyLocked()
	if err != nil {
		return fmt.Errorf("ftpcore: reading greeting: %w", err)
	}
	if !greeting.Success() {
		return &ProtocolError{Command: "CONNECT", Reply: greeting}
	}
	s.connected = true

	if s.cfg.Encryption == EncryptionExplicit {
		reply, err := s.sendCommandLocked("AUTH TLS")
		if err != nil {
			return err
		}
		if !reply.Success() {
			return fmt.Errorf("%w: %s", ErrTLSUnavailable, reply)
		}
		if err := conn.activateTLS(s.cfg, s.bus); err != nil {
			return err
		}
	}

	if err := s.loginLocked(); err != nil {
		return err
	}

	if conn.tlsActive && s.cfg.EncryptData {
		if _, err := s.executeSuccessLocked("PBSZ 0"); err != nil {
			return err
		}
		if _, err := s.executeSuccessLocked("PROT P"); err != nil {
			return err
		}
		s.protActive = true
	}

	if !s.isClone {
		reply, err := s.sendCommandLocked("FEAT")
		if err != nil {
			return err
		}
		if reply.Success() {
			s.feats = parseFeatures(strings.Split(reply.InfoMessages, "\n"))
		}
	}

	if !s.cfg.DisableAutoUTF8 && s.encName == "ASCII" && s.feats.has(FeatUTF8) {
		s.enc = unicode.UTF8
		s.encName = "UTF-8"
		// Belt and braces: some servers want the opt-in even though they
		// advertise UTF8. A refusal is advisory only.
		if reply, err := s.sendCommandLocked("OPTS UTF8 ON"); err != nil {
			return err
		} else if !reply.Success() {
			s.logger.Debug("OPTS UTF8 ON refused", "code", reply.Code)
		}
	}

	reply, err := s.sendCommandLocked("SYST")
	if err != nil {
		return err
	}
	if reply.Success() {
		s.system = reply.Message
	}
	if s.cfg.ListingParser == "" {
		s.cfg.ListingParser = listingHint(s.system)
	}

	s.startKeepAliveLocked()

	ok = true
	return nil
}

// listingHint maps a SYST banner to a listing-parser name for the layer
// above. Defaults to UNIX when SYST failed or is unknown.
func listingHint(system string) string {
	up := strings.ToUpper(system)
	switch {
	case strings.Contains(up, "WINDOWS"), strings.Contains(up, "DOS"):
		return "DOS"
	case strings.Contains(up, "VMS"):
		return "VMS"
	default:
		return "UNIX"
	}
}

// loginLocked runs the USER/PASS sequence. A 2xx after USER means no
// password is required.
func (s *Session) loginLocked() error {
	reply, err := s.sendCommandLocked("USER " + s.cfg.User)
	if err != nil {
		return err
	}
	switch reply.Type() {
	case PositiveCompletion:
		return nil
	case PositiveIntermediate:
		// password required
	default:
		return &AuthError{Reply: reply}
	}

	reply, err = s.sendCommandLocked("PASS " + s.cfg.Password)
	if err != nil {
		return err
	}
	if !reply.Is2xx() {
		return &AuthError{Reply: reply}
	}
	return nil
}

// Execute sends a command and returns the server's reply.
//
// If the session is disconnected it reconnects first, except for QUIT,
// which is answered with a synthetic "200 Connection already closed."
// without touching the network. Before each command the session probes
// the socket for liveness and, on cleartext connections, for unread
// stale bytes left over from a reply that was never consumed; a stream
// with stale bytes is drained, logged and replaced.
func (s *Session) Execute(cmd string) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrAlreadyDisposed
	}
	return s.executeLocked(cmd)
}

func (s *Session) executeLocked(cmd string) (*Reply, error) {
	s.checkStreamLocked()

	if !s.connected {
		if strings.EqualFold(strings.TrimSpace(cmd), "QUIT") {
			return &Reply{Code: 200, Message: "Connection already closed."}, nil
		}
		if err := s.connectLocked(); err != nil {
			return nil, err
		}
	}

	return s.sendCommandLocked(cmd)
}

// checkStreamLocked probes the control stream and drops it when it is
// dead or carries unread bytes from a reply nobody consumed.
func (s *Session) checkStreamLocked() {
	if s.connected && s.conn != nil {
		if err := s.conn.pollLiveness(); err != nil {
			s.logger.Debug("liveness probe failed", "err", err)
			s.markBrokenLocked()
		}
	}

	if !s.cfg.DisableStaleDataCheck && s.connected && s.conn != nil && !s.conn.tlsActive {
		if s.conn.bytesAvailable() > 0 {
			stale := s.conn.drainAvailable()
			s.logger.Debug("discarding stale server data", "data", string(stale))
			s.tracer.Note("discarded %d stale bytes: %q", len(stale), string(stale))
			s.markBrokenLocked()
		}
	}
}

// ensureConnectedLocked verifies the stream is healthy and reconnects if
// it is not. Data-channel setup runs this before consulting any
// negotiated per-connection state.
func (s *Session) ensureConnectedLocked() error {
	s.checkStreamLocked()
	if !s.connected {
		return s.connectLocked()
	}
	return nil
}

// sendCommandLocked writes one command and reads its reply, without the
// reconnect and stale-data preamble of executeLocked.
func (s *Session) sendCommandLocked(cmd string) (*Reply, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	s.logger.Debug("ftp command", "cmd", trace.Redact(cmd))
	s.tracer.Sent(cmd)

	if err := s.conn.writeLine(s.enc, cmd); err != nil {
		s.markBrokenLocked()
		return nil, err
	}

	return s.readReplyLocked()
}

// executeSuccessLocked sends a command and turns any non-success reply
// into a ProtocolError.
func (s *Session) executeSuccessLocked(cmd string) (*Reply, error) {
	reply, err := s.sendCommandLocked(cmd)
	if err != nil {
		return nil, err
	}
	if !reply.Success() {
		return reply, &ProtocolError{Command: cmd, Reply: reply}
	}
	return reply, nil
}

// GetReply reads one reply from the control connection. Intended for
// callers that wrote to the stream directly, and for reading the
// transfer completion reply after a data connection closes.
func (s *Session) GetReply() (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrAlreadyDisposed
	}
	return s.readReplyLocked()
}

func (s *Session) readReplyLocked() (*Reply, error) {
	if s.conn == nil {
		return nil, ErrNotConnected
	}

	reply, err := readReply(func() (string, error) {
		line, err := s.conn.readLine(s.enc)
		if err == nil {
			s.tracer.Received(line)
		}
		return line, err
	})
	if err != nil {
		s.markBrokenLocked()
		return nil, err
	}

	s.logger.Debug("ftp reply", "code", reply.Code, "message", reply.Message)
	return reply, nil
}

// markBrokenLocked drops the stream. The session holds either a
// connected stream or none. Per-connection negotiation state is reset:
// a replacement connection starts at the protocol's ASCII default.
func (s *Session) markBrokenLocked() {
	if s.conn != nil {
		_ = s.conn.close()
		s.conn = nil
	}
	s.connected = false
	s.protActive = false
	s.curType = TypeASCII
}

// Disconnect sends QUIT (unless UngracefulDisconnect is set) and closes
// the control connection. Transport errors from QUIT are swallowed;
// they are expected during shutdown. Disconnecting a disconnected
// session is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectLocked()
}

func (s *Session) disconnectLocked() error {
	s.stopKeepAliveLocked()

	if s.conn == nil {
		s.connected = false
		return nil
	}

	if s.connected && !s.cfg.UngracefulDisconnect {
		_, _ = s.sendCommandLocked("QUIT")
	}

	var err error
	if s.conn != nil {
		err = s.conn.close()
		s.conn = nil
	}
	s.connected = false
	s.protActive = false
	return err
}

// Close disposes the session: it disconnects (swallowing all errors)
// and releases the socket. Close is idempotent and safe to call from
// any goroutine; further operations return ErrAlreadyDisposed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil
	}
	s.disposed = true
	_ = s.disconnectLocked()
	return nil
}

// SetKeepAlive updates the keep-alive configuration and applies it to
// the live socket immediately.
func (s *Session) SetKeepAlive(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.KeepAlive = on
	if s.conn == nil {
		return nil
	}
	return s.conn.setKeepAlive(on)
}
