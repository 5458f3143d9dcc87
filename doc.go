// Package ftpcore implements the control-connection core of an FTP/FTPS
// client: session establishment, TLS negotiation, authentication,
// command execution with reply parsing, capability discovery, and data
// connection setup in all four modes (PASV, EPSV, PORT, EPRT).
//
// Higher-level concerns — file operations, listing parsers, retries —
// are expected to live above this package and consume its primitives:
// execute a command and receive the reply, open a data connection of a
// given kind, query a capability flag.
//
// # Basic usage
//
//	sess := ftpcore.NewSession(&ftpcore.Config{
//	    Host: "ftp.example.com",
//	    User: "alice",
//	    Password: "secret",
//	})
//	if err := sess.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Close()
//
//	reply, err := sess.Execute("PWD")
//
// # Transport security
//
// Explicit TLS reads the greeting in cleartext and upgrades with AUTH
// TLS; implicit TLS (port 990) handshakes before any FTP byte:
//
//	sess := ftpcore.NewSession(&ftpcore.Config{
//	    Host:        "ftp.example.com",
//	    Encryption:  ftpcore.EncryptionExplicit,
//	    EncryptData: true, // PBSZ 0 + PROT P, TLS on data connections
//	})
//
// Certificate trust decisions flow through the session's validation
// bus. The default policy accepts certificates that pass platform
// verification; replace it to pin certificates or prompt a user:
//
//	sess.ValidationBus().Clear()
//	sess.ValidationBus().Subscribe(func(ev *ftpcore.CertValidationEvent) {
//	    if ev.Certificate.Subject.CommonName == "ftp.example.com" {
//	        ev.Accept()
//	    }
//	})
//
// # Transfers
//
// A data connection is opened per transfer; the session negotiates the
// transfer type and, under PROT P, wraps the stream in TLS:
//
//	dc, err := sess.OpenPassiveDataChannel(ftpcore.TypeBinary)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := sess.Execute("RETR file.bin"); err != nil {
//	    log.Fatal(err)
//	}
//	io.Copy(dst, dc)
//	dc.Close()
//	sess.GetReply() // 226 Transfer complete
//
// # Parallel transfers
//
// A session serializes its commands. For concurrency, Clone spawns a
// sibling session that shares configuration and capabilities but owns
// its own socket:
//
//	sibling := sess.Clone()
//	if err := sibling.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	// transfer on sibling while sess stays available
package ftpcore
