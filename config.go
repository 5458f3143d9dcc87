package ftpcore

import (
	"crypto/tls"
	"io"
	"log/slog"
	"time"

	"golang.org/x/text/encoding"
)

// EncryptionMode selects the transport security strategy for the control
// connection. Servers cannot support both TLS modes on the same port.
type EncryptionMode int

const (
	// EncryptionNone uses a cleartext control connection.
	EncryptionNone EncryptionMode = iota

	// EncryptionExplicit reads the greeting in cleartext, then upgrades
	// in place with AUTH TLS. Default port 21.
	EncryptionExplicit

	// EncryptionImplicit performs the TLS handshake before any FTP byte
	// is exchanged. Default port 990.
	EncryptionImplicit
)

// DataChannelMode selects how data connections are established.
type DataChannelMode int

const (
	// ModeAutoPassive tries EPSV and falls back to PASV if the server
	// rejects it. The working choice is remembered for the session.
	ModeAutoPassive DataChannelMode = iota

	// ModeAutoActive tries EPRT and falls back to PORT analogously.
	ModeAutoActive

	// ModePASV always uses PASV.
	ModePASV

	// ModeEPSV always uses EPSV.
	ModeEPSV

	// ModePASVEX uses PASV but substitutes the control-connection host
	// when the advertised data address is private or unroutable. Useful
	// with servers behind NAT that advertise their internal address.
	ModePASVEX

	// ModePORT always uses PORT.
	ModePORT

	// ModeEPRT always uses EPRT.
	ModeEPRT
)

// active reports whether the mode has the client listen and the server
// connect.
func (m DataChannelMode) active() bool {
	return m == ModeAutoActive || m == ModePORT || m == ModeEPRT
}

// IPVersion restricts which resolved addresses are dialed.
type IPVersion int

const (
	// IPAny dials whatever the resolver returns, in order.
	IPAny IPVersion = iota

	// IPv4Only dials only A records.
	IPv4Only

	// IPv6Only dials only AAAA records.
	IPv6Only
)

// DataType is the FTP transfer type negotiated with the TYPE command.
type DataType string

const (
	// TypeASCII is text mode ("TYPE A").
	TypeASCII DataType = "A"

	// TypeBinary is image mode ("TYPE I").
	TypeBinary DataType = "I"
)

// AddressResolver returns the IP address to announce in PORT/EPRT
// commands. Set one when the local interface address is not what the
// server should dial back to (e.g. behind NAT with a port forward).
type AddressResolver func() (string, error)

// Config holds everything a Session needs. The zero value plus a Host is
// usable; defaults are filled in by NewSession.
//
// Fields may be mutated while the session is connected; they take effect
// on subsequent operations. The one exception is SetKeepAlive on the
// session, which reaches into the live socket immediately.
type Config struct {
	// Host is the server name or address. Required.
	Host string

	// Port is the control-connection port. 0 infers it from Encryption:
	// 21 for None/Explicit, 990 for Implicit.
	Port int

	// User and Password default to "anonymous"/"anonymous".
	User     string
	Password string

	// Encryption selects cleartext, explicit TLS, or implicit TLS.
	Encryption EncryptionMode

	// TLSConfig, when set, is cloned and used as the base for control and
	// data TLS. ServerName defaults to Host. A session cache is installed
	// if absent so data connections can resume the control TLS session.
	TLSConfig *tls.Config

	// ClientCertificates are offered to the server during the handshake.
	ClientCertificates []tls.Certificate

	// MinTLSVersion and MaxTLSVersion bound the negotiated protocol
	// (crypto/tls VersionTLSxx constants, 0 = library default).
	MinTLSVersion uint16
	MaxTLSVersion uint16

	// DataChannelMode selects passive/active data connections.
	DataChannelMode DataChannelMode

	// EncryptData requests PROT P during connect so data connections are
	// wrapped in TLS. Only meaningful with an encrypted control channel.
	EncryptData bool

	// ConnectTimeout bounds control-connection dialing and TLS
	// handshakes. Default 30s.
	ConnectTimeout time.Duration

	// ReadTimeout bounds every control-connection read and write.
	// Default 30s.
	ReadTimeout time.Duration

	// DataConnectTimeout bounds data-connection dialing (passive) and
	// accepting (active). Defaults to ConnectTimeout.
	DataConnectTimeout time.Duration

	// DataReadTimeout bounds data-connection reads and writes.
	// Defaults to ReadTimeout.
	DataReadTimeout time.Duration

	// PollInterval is how long the control socket may sit idle before a
	// liveness probe precedes the next command. Default 15s, negative
	// disables probing.
	PollInterval time.Duration

	// KeepAlive enables SO_KEEPALIVE on the control socket.
	KeepAlive bool

	// NoopInterval, when positive, starts a background loop that sends
	// NOOP whenever the session has been idle that long.
	NoopInterval time.Duration

	// DisableStaleDataCheck turns off the pre-command check for unread
	// server bytes. The check cannot run over TLS either way.
	DisableStaleDataCheck bool

	// UngracefulDisconnect skips QUIT on Disconnect and just closes the
	// socket.
	UngracefulDisconnect bool

	// DisableAutoUTF8 prevents the automatic promotion to UTF-8 when the
	// server advertises the UTF8 feature.
	DisableAutoUTF8 bool

	// TextEncoding is the control-channel encoding. Nil means ASCII
	// until promotion. Set e.g. charmap.CodePage437 for legacy servers.
	TextEncoding encoding.Encoding

	// TransferChunkSize is the buffer size higher layers should use when
	// streaming data connections. Default 64 KiB.
	TransferChunkSize int

	// RetryAttempts is the number of attempts higher layers should make
	// per operation. The core itself never retries. Minimum 1.
	RetryAttempts int

	// UploadRateKiB and DownloadRateKiB cap data-connection throughput
	// in KiB/s. 0 means unlimited.
	UploadRateKiB   int64
	DownloadRateKiB int64

	// ListingParser, ListingCulture and TimeOffset are hints consumed by
	// the listing layer above the core. The session records the SYST
	// result into ListingParser when it is empty.
	ListingParser  string
	ListingCulture string
	TimeOffset     time.Duration

	// AddressResolver overrides the address announced in active mode.
	AddressResolver AddressResolver

	// ActivePorts restricts the local ports used for active-mode
	// listeners. Empty means any ephemeral port.
	ActivePorts []int

	// IPVersion restricts which resolved server addresses are dialed.
	IPVersion IPVersion

	// Logger receives debug-level command/reply logging. Nil discards.
	Logger *slog.Logger

	// TraceWriter, when set, receives the raw protocol conversation
	// (PASS arguments redacted). TraceColor turns on ANSI colors.
	TraceWriter io.Writer
	TraceColor  bool
}

// fillDefaults normalizes the config in place.
func (c *Config) fillDefaults() {
	if c.User == "" {
		c.User = "anonymous"
	}
	if c.Password == "" {
		c.Password = "anonymous"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.DataConnectTimeout <= 0 {
		c.DataConnectTimeout = c.ConnectTimeout
	}
	if c.DataReadTimeout <= 0 {
		c.DataReadTimeout = c.ReadTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.TransferChunkSize <= 0 {
		c.TransferChunkSize = 64 * 1024
	}
	if c.RetryAttempts < 1 {
		c.RetryAttempts = 1
	}
}

// port returns the effective control port.
func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Encryption == EncryptionImplicit {
		return 990
	}
	return 21
}
