package ftpcore

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"time"

	"github.com/ftplab/ftpcore/internal/ratelimit"
)

var (
	// pasvRegex matches the PASV endpoint: (h1,h2,h3,h4,p1,p2)
	pasvRegex = regexp.MustCompile(`(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

	// epsvRegex matches the EPSV endpoint: (|||port|)
	epsvRegex = regexp.MustCompile(`\(\|\|\|(\d+)\|\)`)
)

// parsePASVEndpoint extracts the host and port from a PASV reply body.
// "Entering Passive Mode (127,0,0,1,234,5)" yields "127.0.0.1", 59909.
func parsePASVEndpoint(msg string) (string, int, error) {
	m := pasvRegex.FindStringSubmatch(msg)
	if m == nil {
		return "", 0, fmt.Errorf("ftpcore: invalid PASV reply: %q", msg)
	}

	var octets [4]int
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(m[i+1])
		if err != nil || v < 0 || v > 255 {
			return "", 0, fmt.Errorf("ftpcore: invalid PASV address octet %q", m[i+1])
		}
		octets[i] = v
	}

	p1, err1 := strconv.Atoi(m[5])
	p2, err2 := strconv.Atoi(m[6])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		return "", 0, fmt.Errorf("ftpcore: invalid PASV port bytes %q,%q", m[5], m[6])
	}

	host := fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3])
	return host, p1*256 + p2, nil
}

// parseEPSVPort extracts the port from an EPSV reply body, e.g.
// "Entering Extended Passive Mode (|||52311|)".
func parseEPSVPort(msg string) (int, error) {
	m := epsvRegex.FindStringSubmatch(msg)
	if m == nil {
		return 0, fmt.Errorf("ftpcore: invalid EPSV reply: %q", msg)
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("ftpcore: invalid EPSV port %q", m[1])
	}
	return port, nil
}

// formatPORT renders an IPv4 endpoint as the PORT argument
// h1,h2,h3,h4,p1,p2.
func formatPORT(ip net.IP, port int) (string, error) {
	v4 := ip.To4()
	if v4 == nil {
		return "", fmt.Errorf("ftpcore: PORT requires an IPv4 address, got %s", ip)
	}
	return fmt.Sprintf("%d,%d,%d,%d,%d,%d", v4[0], v4[1], v4[2], v4[3], port/256, port%256), nil
}

// formatEPRT renders an endpoint as the EPRT argument |proto|ip|port|,
// proto 1 for IPv4 and 2 for IPv6.
func formatEPRT(ip net.IP, port int) string {
	proto := 1
	if ip.To4() == nil {
		proto = 2
	}
	return fmt.Sprintf("|%d|%s|%d|", proto, ip.String(), port)
}

// OpenDataChannel opens a data connection in the configured mode and
// negotiates the transfer type. The caller owns the returned stream and
// must close it; for streams opened on a clone, Close also reads the
// transfer completion reply and disposes the clone.
func (s *Session) OpenDataChannel(dt DataType) (net.Conn, error) {
	if s.cfg.DataChannelMode.active() {
		return s.OpenActiveDataChannel(dt)
	}
	return s.OpenPassiveDataChannel(dt)
}

// OpenPassiveDataChannel asks the server to listen (PASV/EPSV per the
// configured mode) and connects to the advertised endpoint.
func (s *Session) OpenPassiveDataChannel(dt DataType) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrAlreadyDisposed
	}
	if err := s.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	if err := s.setTypeLocked(dt); err != nil {
		return nil, err
	}

	addr, err := s.requestPassiveLocked()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("opening passive data connection", "addr", addr)
	dc, err := net.DialTimeout("tcp", addr, s.cfg.DataConnectTimeout)
	if err != nil {
		return nil, &TransportError{Op: "data connect", Err: err}
	}

	if s.protActive && s.conn != nil && s.conn.tlsConfig != nil {
		tlsConn := tls.Client(dc, s.conn.tlsConfig)
		_ = dc.SetDeadline(time.Now().Add(s.cfg.DataConnectTimeout))
		if err := tlsConn.Handshake(); err != nil {
			_ = dc.Close()
			return nil, fmt.Errorf("ftpcore: data connection TLS handshake failed: %w", err)
		}
		_ = dc.SetDeadline(time.Time{})
		dc = tlsConn
	}

	return s.wrapDataConnLocked(dc), nil
}

// requestPassiveLocked resolves the passive endpoint to dial. In
// ModeAutoPassive a permanently refused EPSV disables it for the rest of
// the session.
func (s *Session) requestPassiveLocked() (string, error) {
	mode := s.cfg.DataChannelMode

	useEPSV := false
	switch mode {
	case ModeEPSV:
		useEPSV = true
	case ModePASV, ModePASVEX:
	case ModeAutoPassive:
		useEPSV = !s.epsvDisabled
	default:
		return "", fmt.Errorf("%w: %d is not a passive data-channel mode", ErrInvalidConfiguration, mode)
	}

	if useEPSV {
		addr, err := s.requestEPSVLocked(mode)
		if err == nil || mode == ModeEPSV {
			return addr, err
		}
		// Only a permanent refusal switches to PASV; a transient EPSV
		// failure surfaces to the caller and EPSV is tried again next
		// time.
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) || !protoErr.IsPermanent() {
			return "", err
		}
	}

	reply, err := s.executeLocked("PASV")
	if err != nil {
		return "", err
	}
	if !reply.Success() {
		return "", &ProtocolError{Command: "PASV", Reply: reply}
	}

	host, port, err := parsePASVEndpoint(reply.Message)
	if err != nil {
		return "", err
	}

	ip := net.ParseIP(host)
	substitute := ip == nil || ip.IsUnspecified()
	if mode == ModePASVEX && ip != nil {
		// The server may advertise its internal address; prefer the host
		// we are actually talking to.
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			substitute = true
		}
	}
	if substitute {
		host = s.controlPeerHostLocked()
	}

	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func (s *Session) requestEPSVLocked(mode DataChannelMode) (string, error) {
	reply, err := s.executeLocked("EPSV")
	if err != nil {
		return "", err
	}

	if reply.Success() {
		port, perr := parseEPSVPort(reply.Message)
		if perr == nil {
			return net.JoinHostPort(s.controlPeerHostLocked(), strconv.Itoa(port)), nil
		}
		if mode == ModeEPSV {
			return "", perr
		}
		return "", fmt.Errorf("ftpcore: EPSV reply unusable: %w", perr)
	}

	if mode == ModeAutoPassive {
		if reply.Type() == PermanentNegativeCompletion {
			s.epsvDisabled = true
			s.logger.Debug("EPSV unsupported, remembering PASV for this session", "code", reply.Code)
		}
		return "", &ProtocolError{Command: "EPSV", Reply: reply}
	}
	return "", &ProtocolError{Command: "EPSV", Reply: reply}
}

// controlPeerHostLocked returns the server address of the control
// connection, which passive endpoints default to.
func (s *Session) controlPeerHostLocked() string {
	if s.conn == nil || s.conn.raw == nil {
		return s.cfg.Host
	}
	host, _, err := net.SplitHostPort(s.conn.raw.RemoteAddr().String())
	if err != nil {
		return s.cfg.Host
	}
	return host
}

// OpenActiveDataChannel binds a local listener, announces it via
// PORT/EPRT per the configured mode, and returns a stream that accepts
// exactly one incoming connection on first use.
func (s *Session) OpenActiveDataChannel(dt DataType) (net.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrAlreadyDisposed
	}
	if err := s.ensureConnectedLocked(); err != nil {
		return nil, err
	}

	if err := s.setTypeLocked(dt); err != nil {
		return nil, err
	}

	listener, announceIP, err := s.listenActiveLocked()
	if err != nil {
		return nil, err
	}

	_, portStr, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("ftpcore: parsing listener address: %w", err)
	}
	port, _ := strconv.Atoi(portStr)

	if err := s.announceActiveLocked(announceIP, port); err != nil {
		_ = listener.Close()
		return nil, err
	}

	adc := &activeDataConn{
		listener: listener,
		timeout:  s.cfg.DataConnectTimeout,
	}
	if s.protActive && s.conn != nil {
		adc.tlsConfig = s.conn.tlsConfig
	}

	return s.wrapDataConnLocked(adc), nil
}

// listenActiveLocked binds a listener on the control connection's local
// interface, restricted to ActivePorts when configured.
func (s *Session) listenActiveLocked() (net.Listener, net.IP, error) {
	localHost := ""
	if s.conn != nil && s.conn.raw != nil {
		if h, _, err := net.SplitHostPort(s.conn.raw.LocalAddr().String()); err == nil {
			localHost = h
		}
	}

	listen := func(port int) (net.Listener, error) {
		l, err := net.Listen("tcp", net.JoinHostPort(localHost, strconv.Itoa(port)))
		if err != nil && localHost != "" {
			l, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
		}
		return l, err
	}

	var listener net.Listener
	var err error
	if len(s.cfg.ActivePorts) > 0 {
		for _, p := range s.cfg.ActivePorts {
			if listener, err = listen(p); err == nil {
				break
			}
		}
		if listener == nil {
			return nil, nil, fmt.Errorf("ftpcore: no usable port in ActivePorts: %w", err)
		}
	} else {
		if listener, err = listen(0); err != nil {
			return nil, nil, &TransportError{Op: "listen", Err: err}
		}
	}

	announceIP := s.resolveAnnounceIP(localHost, listener)
	if announceIP == nil {
		_ = listener.Close()
		return nil, nil, fmt.Errorf("%w: cannot determine local address to announce", ErrInvalidConfiguration)
	}
	return listener, announceIP, nil
}

// resolveAnnounceIP picks the address to send in PORT/EPRT: the
// configured resolver when set (useful behind NAT), otherwise the local
// endpoint of the control connection.
func (s *Session) resolveAnnounceIP(controlLocalHost string, listener net.Listener) net.IP {
	if s.cfg.AddressResolver != nil {
		resolved, err := s.cfg.AddressResolver()
		if err == nil {
			if ip := net.ParseIP(resolved); ip != nil {
				return ip
			}
		}
		s.logger.Debug("address resolver failed, using control-connection address", "err", err)
	}
	if ip := net.ParseIP(controlLocalHost); ip != nil {
		return ip
	}
	if h, _, err := net.SplitHostPort(listener.Addr().String()); err == nil {
		if ip := net.ParseIP(h); ip != nil && !ip.IsUnspecified() {
			return ip
		}
	}
	return nil
}

// announceActiveLocked sends EPRT or PORT per the configured mode. In
// ModeAutoActive a permanently refused EPRT disables it for the rest of
// the session.
func (s *Session) announceActiveLocked(ip net.IP, port int) error {
	mode := s.cfg.DataChannelMode

	useEPRT := false
	switch mode {
	case ModeEPRT:
		useEPRT = true
	case ModePORT:
	case ModeAutoActive:
		// IPv6 cannot be announced with PORT at all.
		useEPRT = !s.eprtDisabled || ip.To4() == nil
	default:
		return fmt.Errorf("%w: %d is not an active data-channel mode", ErrInvalidConfiguration, mode)
	}

	if useEPRT {
		reply, err := s.executeLocked("EPRT " + formatEPRT(ip, port))
		if err != nil {
			return err
		}
		if reply.Success() {
			return nil
		}
		if mode != ModeAutoActive || ip.To4() == nil {
			return &ProtocolError{Command: "EPRT", Reply: reply}
		}
		if reply.Type() == PermanentNegativeCompletion {
			s.eprtDisabled = true
			s.logger.Debug("EPRT unsupported, remembering PORT for this session", "code", reply.Code)
		}
	}

	arg, err := formatPORT(ip, port)
	if err != nil {
		return err
	}
	reply, err := s.executeLocked("PORT " + arg)
	if err != nil {
		return err
	}
	if !reply.Success() {
		return &ProtocolError{Command: "PORT", Reply: reply}
	}
	return nil
}

// setTypeLocked issues TYPE A/I when the requested transfer type
// differs from the session's current one.
func (s *Session) setTypeLocked(dt DataType) error {
	if dt == "" || dt == s.curType {
		return nil
	}
	reply, err := s.executeLocked("TYPE " + string(dt))
	if err != nil {
		return err
	}
	if !reply.Success() {
		return &ProtocolError{Command: "TYPE " + string(dt), Reply: reply}
	}
	s.curType = dt
	return nil
}

// wrapDataConnLocked applies the per-operation deadline and the
// configured rate caps, and registers the channel so the keep-alive
// loop stays silent while a transfer is in flight. On a clone, closing
// the stream also consumes the transfer completion reply and disposes
// the clone: a clone exists for exactly one transfer.
func (s *Session) wrapDataConnLocked(conn net.Conn) net.Conn {
	dc := &dataConn{
		Conn:    conn,
		timeout: s.cfg.DataReadTimeout,
		r:       ratelimit.NewReader(conn, ratelimit.PerKiB(s.cfg.DownloadRateKiB)),
		w:       ratelimit.NewWriter(conn, ratelimit.PerKiB(s.cfg.UploadRateKiB)),
	}
	s.openChannels++
	isClone := s.isClone
	dc.onClose = func() {
		s.mu.Lock()
		if s.openChannels > 0 {
			s.openChannels--
		}
		s.mu.Unlock()
		if isClone {
			_, _ = s.GetReply()
			_ = s.Close()
		}
	}
	return dc
}

// dataConn is the stream handed to transfer code: deadline-bounded and
// rate-capped.
type dataConn struct {
	net.Conn
	timeout time.Duration
	r       io.Reader
	w       io.Writer
	onClose func()
}

func (d *dataConn) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.Conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.r.Read(p)
}

func (d *dataConn) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		if err := d.Conn.SetWriteDeadline(time.Now().Add(d.timeout)); err != nil {
			return 0, err
		}
	}
	return d.w.Write(p)
}

func (d *dataConn) Close() error {
	err := d.Conn.Close()
	if d.onClose != nil {
		d.onClose()
		d.onClose = nil
	}
	return err
}

// activeDataConn waits for the server's incoming connection on first
// use, then stops listening. Exactly one connection is accepted.
type activeDataConn struct {
	listener  net.Listener
	conn      net.Conn
	tlsConfig *tls.Config
	timeout   time.Duration
}

func (a *activeDataConn) accept() error {
	if a.timeout > 0 {
		if l, ok := a.listener.(*net.TCPListener); ok {
			_ = l.SetDeadline(time.Now().Add(a.timeout))
		}
	}
	conn, err := a.listener.Accept()
	if err != nil {
		return &TransportError{Op: "data accept", Err: err}
	}
	_ = a.listener.Close()
	a.conn = conn

	if a.tlsConfig != nil {
		tlsConn := tls.Client(a.conn, a.tlsConfig)
		if a.timeout > 0 {
			_ = a.conn.SetDeadline(time.Now().Add(a.timeout))
		}
		if err := tlsConn.Handshake(); err != nil {
			_ = a.conn.Close()
			return fmt.Errorf("ftpcore: data connection TLS handshake failed: %w", err)
		}
		_ = a.conn.SetDeadline(time.Time{})
		a.conn = tlsConn
	}
	return nil
}

func (a *activeDataConn) Read(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	return a.conn.Read(p)
}

func (a *activeDataConn) Write(p []byte) (int, error) {
	if a.conn == nil {
		if err := a.accept(); err != nil {
			return 0, err
		}
	}
	return a.conn.Write(p)
}

func (a *activeDataConn) Close() error {
	var connErr, listenErr error
	if a.conn != nil {
		connErr = a.conn.Close()
	}
	if a.listener != nil {
		listenErr = a.listener.Close()
	}
	if connErr != nil {
		return connErr
	}
	return listenErr
}

func (a *activeDataConn) LocalAddr() net.Addr {
	if a.conn != nil {
		return a.conn.LocalAddr()
	}
	return a.listener.Addr()
}

func (a *activeDataConn) RemoteAddr() net.Addr {
	if a.conn != nil {
		return a.conn.RemoteAddr()
	}
	return nil
}

func (a *activeDataConn) SetDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetReadDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetReadDeadline(t)
	}
	return nil
}

func (a *activeDataConn) SetWriteDeadline(t time.Time) error {
	if a.conn != nil {
		return a.conn.SetWriteDeadline(t)
	}
	return nil
}
