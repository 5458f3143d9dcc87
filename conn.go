package ftpcore

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/text/encoding"
)

// lineConn is the buffered, timeout-aware, optionally TLS-wrapped duplex
// stream under a control session. It owns exactly one TCP socket.
type lineConn struct {
	// raw is the plain TCP connection, kept for socket options and
	// receive-buffer queries even after a TLS wrap.
	raw net.Conn

	// conn is the stream commands travel over: raw, or its TLS wrapper.
	conn net.Conn

	reader *bufio.Reader

	connectTimeout time.Duration
	readTimeout    time.Duration
	pollInterval   time.Duration

	// lastActivity is the time of the last successful read or write,
	// consulted by the liveness probe.
	lastActivity time.Time

	tlsActive bool

	// tlsConfig is the negotiated control-channel TLS configuration,
	// reused verbatim for PROT P data connections.
	tlsConfig *tls.Config
}

// dial resolves host, filters the addresses by IP preference, and
// attempts each in order. The first successful connection wins.
func (c *lineConn) dial(host string, port int, pref IPVersion) error {
	ips, err := resolveHost(host, pref)
	if err != nil {
		return err
	}

	var lastErr error
	for _, ip := range ips {
		addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
		conn, err := net.DialTimeout("tcp", addr, c.connectTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		c.raw = conn
		c.conn = conn
		c.reader = bufio.NewReader(conn)
		c.lastActivity = time.Now()
		return nil
	}

	return fmt.Errorf("%w: %s: %v", ErrNetworkUnreachable, host, lastErr)
}

// resolveHost returns the candidate addresses for host, restricted by
// the IP version preference.
func resolveHost(host string, pref IPVersion) ([]net.IP, error) {
	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return nil, fmt.Errorf("%w: resolving %s: %v", ErrNetworkUnreachable, host, err)
		}
		ips = resolved
	}

	var out []net.IP
	for _, ip := range ips {
		switch pref {
		case IPv4Only:
			if ip.To4() == nil {
				continue
			}
		case IPv6Only:
			if ip.To4() != nil {
				continue
			}
		}
		out = append(out, ip)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no address matching the IP preference", ErrNetworkUnreachable, host)
	}
	return out, nil
}

// activateTLS performs the TLS handshake on the current socket,
// presenting cfg.Host for SNI and delegating trust to the validation
// bus. After a successful handshake all traffic flows through the TLS
// layer.
func (c *lineConn) activateTLS(cfg *Config, bus *CertValidationBus) error {
	tlsCfg := &tls.Config{}
	if cfg.TLSConfig != nil {
		tlsCfg = cfg.TLSConfig.Clone()
	}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = cfg.Host
	}
	if len(cfg.ClientCertificates) > 0 {
		tlsCfg.Certificates = append(tlsCfg.Certificates, cfg.ClientCertificates...)
	}
	if cfg.MinTLSVersion != 0 {
		tlsCfg.MinVersion = cfg.MinTLSVersion
	}
	if cfg.MaxTLSVersion != 0 {
		tlsCfg.MaxVersion = cfg.MaxTLSVersion
	}
	// Session cache enables TLS session resumption on data connections,
	// which vsftpd and ProFTPD require under PROT P.
	if tlsCfg.ClientSessionCache == nil {
		tlsCfg.ClientSessionCache = tls.NewLRUClientSessionCache(0)
	}

	// Trust decisions go through the bus, so the built-in verification
	// is disabled and replaced with an explicit callback.
	roots := tlsCfg.RootCAs
	serverName := tlsCfg.ServerName
	tlsCfg.InsecureSkipVerify = true
	tlsCfg.VerifyPeerCertificate = verifyViaBus(serverName, roots, bus)

	tlsConn := tls.Client(c.conn, tlsCfg)
	if c.connectTimeout > 0 {
		if err := c.conn.SetDeadline(time.Now().Add(c.connectTimeout)); err != nil {
			return &TransportError{Op: "tls handshake", Err: err}
		}
	}
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("ftpcore: TLS handshake failed: %w", err)
	}
	_ = c.conn.SetDeadline(time.Time{})

	c.conn = tlsConn
	c.reader = bufio.NewReader(tlsConn)
	c.tlsActive = true
	c.tlsConfig = tlsCfg
	c.lastActivity = time.Now()
	return nil
}

// verifyViaBus runs platform certificate verification, hands the
// findings to the bus, and fails the handshake unless a subscriber
// accepted.
func verifyViaBus(host string, roots *x509.CertPool, bus *CertValidationBus) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrTLSRejected
		}

		certs := make([]*x509.Certificate, 0, len(rawCerts))
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return fmt.Errorf("ftpcore: parsing peer certificate: %w", err)
			}
			certs = append(certs, cert)
		}

		leaf := certs[0]
		ev := &CertValidationEvent{Host: host, Certificate: leaf}

		intermediates := x509.NewCertPool()
		for _, cert := range certs[1:] {
			intermediates.AddCert(cert)
		}

		chains, err := leaf.Verify(x509.VerifyOptions{
			Roots:         roots,
			Intermediates: intermediates,
		})
		if err != nil {
			ev.Findings = append(ev.Findings, err)
		} else {
			ev.Chains = chains
		}
		if host != "" {
			if err := leaf.VerifyHostname(host); err != nil {
				ev.Findings = append(ev.Findings, err)
			}
		}

		if bus.dispatch(ev) {
			return nil
		}
		return ErrTLSRejected
	}
}

// readLine returns the next CRLF- or LF-terminated line, decoded with
// enc and without its terminator. io.EOF is returned when the server
// closed the connection.
func (c *lineConn) readLine(enc encoding.Encoding) (string, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return "", &TransportError{Op: "read", Err: err}
		}
	}

	raw, err := c.reader.ReadBytes('\n')
	if err != nil {
		if isEOF(err) {
			return "", io.EOF
		}
		return "", &TransportError{Op: "read", Err: err}
	}

	c.lastActivity = time.Now()

	raw = trimEOL(raw)
	return decodeText(enc, raw)
}

// writeLine emits text followed by CRLF, encoded with enc.
func (c *lineConn) writeLine(enc encoding.Encoding, text string) error {
	encoded, err := encodeText(enc, text)
	if err != nil {
		return fmt.Errorf("ftpcore: encoding command: %w", err)
	}
	encoded = append(encoded, '\r', '\n')

	if c.readTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return &TransportError{Op: "write", Err: err}
		}
	}
	if _, err := c.conn.Write(encoded); err != nil {
		return &TransportError{Op: "write", Err: err}
	}

	c.lastActivity = time.Now()
	return nil
}

// Read implements io.Reader with a per-call deadline.
func (c *lineConn) Read(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, &TransportError{Op: "read", Err: err}
		}
	}
	n, err := c.reader.Read(p)
	if n > 0 {
		c.lastActivity = time.Now()
	}
	return n, err
}

// Write implements io.Writer with a per-call deadline.
func (c *lineConn) Write(p []byte) (int, error) {
	if c.readTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return 0, &TransportError{Op: "write", Err: err}
		}
	}
	n, err := c.conn.Write(p)
	if n > 0 {
		c.lastActivity = time.Now()
	}
	return n, err
}

// bytesAvailable reports how many bytes can be read without blocking.
// Returns 0 once TLS is active: the socket byte count no longer maps to
// plaintext, so the peek is meaningless.
func (c *lineConn) bytesAvailable() int {
	if c.tlsActive {
		return 0
	}
	if n := c.reader.Buffered(); n > 0 {
		return n
	}
	return receiveBufferBytes(c.raw)
}

// drainAvailable reads and returns every byte currently available
// without blocking for more.
func (c *lineConn) drainAvailable() []byte {
	var out []byte
	for {
		n := c.bytesAvailable()
		if n <= 0 {
			return out
		}
		buf := make([]byte, n)
		_ = c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		m, err := io.ReadFull(c.reader, buf)
		out = append(out, buf[:m]...)
		if err != nil {
			return out
		}
	}
}

// pollLiveness actively tests the socket if it has been idle longer than
// the poll interval. An error means the connection is dead.
func (c *lineConn) pollLiveness() error {
	if c.pollInterval <= 0 || time.Since(c.lastActivity) < c.pollInterval {
		return nil
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	_, err := c.reader.Peek(1)
	_ = c.conn.SetReadDeadline(time.Time{})

	if err == nil {
		// Bytes are waiting; the stale-data check will deal with them.
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		c.lastActivity = time.Now()
		return nil
	}
	return &TransportError{Op: "poll", Err: err}
}

// setKeepAlive toggles SO_KEEPALIVE on the underlying TCP socket.
func (c *lineConn) setKeepAlive(on bool) error {
	tcp, ok := c.raw.(*net.TCPConn)
	if !ok {
		return nil
	}
	return tcp.SetKeepAlive(on)
}

// close tears the socket down. Safe to call more than once.
func (c *lineConn) close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// trimEOL strips a trailing CRLF or LF.
func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	if n := len(b); n > 0 && b[n-1] == '\r' {
		b = b[:n-1]
	}
	return b
}

// decodeText converts wire bytes to a string. A nil encoding means
// ASCII/UTF-8 passthrough.
func decodeText(enc encoding.Encoding, b []byte) (string, error) {
	if enc == nil {
		return string(b), nil
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// encodeText converts a string to wire bytes under enc.
func encodeText(enc encoding.Encoding, s string) ([]byte, error) {
	if enc == nil {
		return []byte(s), nil
	}
	return enc.NewEncoder().Bytes([]byte(s))
}
