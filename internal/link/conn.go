package link

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/danmuck/relaychat/internal/protocol/session"
	"github.com/quic-go/quic-go"
)

// Conn is one bidirectional byte stream carrying a single channel.
type Conn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() string
}

// Listener yields inbound Conns.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() net.Addr
	Close() error
}

// Dialer opens one outbound Conn.
type Dialer func(ctx context.Context) (Conn, error)

type netConn struct {
	net.Conn
}

// WrapNetConn adapts a net.Conn (tcp, tls or net.Pipe) to Conn.
func WrapNetConn(c net.Conn) Conn {
	return netConn{Conn: c}
}

func (c netConn) RemoteAddr() string {
	if addr := c.Conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

type quicConn struct {
	quic.Stream
	conn quic.Connection
}

func (c *quicConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *quicConn) Close() error {
	err := c.Stream.Close()
	_ = c.conn.CloseWithError(0, "closed")
	return err
}

type quicListener struct {
	ln *quic.Listener
}

func (l *quicListener) Accept(ctx context.Context) (Conn, error) {
	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			return nil, err
		}
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			_ = conn.CloseWithError(0, "no stream")
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return &quicConn{Stream: stream, conn: conn}, nil
	}
}

func (l *quicListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *quicListener) Close() error {
	return l.ln.Close()
}

type tcpListener struct {
	ln net.Listener
}

func (l *tcpListener) Accept(context.Context) (Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return WrapNetConn(conn), nil
}

func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) Close() error {
	return l.ln.Close()
}

func quicConfig(cfg session.Config) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       cfg.IdleTimeout,
		KeepAlivePeriod:      cfg.IdleTimeout / 3,
		HandshakeIdleTimeout: cfg.HandshakeTimeout,
	}
}

// Listen opens the listener cfg.Transport names on addr. A QUIC listener
// without configured cert files uses a generated development certificate.
func Listen(cfg session.Config, addr string) (Listener, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	tlsCfg, err := cfg.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	switch cfg.Transport {
	case session.TransportQUIC:
		if tlsCfg == nil {
			if tlsCfg, err = developmentTLSConfig(); err != nil {
				return nil, err
			}
		}
		ln, err := quic.ListenAddr(addr, tlsCfg, quicConfig(cfg))
		if err != nil {
			return nil, err
		}
		return &quicListener{ln: ln}, nil
	case session.TransportTCP:
		if cfg.TLS.Enabled {
			ln, err := tls.Listen("tcp", addr, tlsCfg)
			if err != nil {
				return nil, err
			}
			return &tcpListener{ln: ln}, nil
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		return &tcpListener{ln: ln}, nil
	default:
		return nil, fmt.Errorf("%w: %q", session.ErrInvalidTransport, cfg.Transport)
	}
}

// NetworkDialer returns a Dialer for addr over cfg.Transport.
func NetworkDialer(cfg session.Config, addr string) Dialer {
	cfg = cfg.WithDefaults()
	return func(ctx context.Context) (Conn, error) {
		if err := cfg.ValidateClientTransport(); err != nil {
			return nil, err
		}
		switch cfg.Transport {
		case session.TransportQUIC:
			return dialQUIC(ctx, cfg, addr)
		case session.TransportTCP:
			return dialTCP(ctx, cfg, addr)
		default:
			return nil, fmt.Errorf("%w: %q", session.ErrInvalidTransport, cfg.Transport)
		}
	}
}

func dialQUIC(ctx context.Context, cfg session.Config, addr string) (Conn, error) {
	tlsCfg, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	conn, err := quic.DialAddr(dialCtx, addr, tlsCfg, quicConfig(cfg))
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &quicConn{Stream: stream, conn: conn}, nil
}

func dialTCP(ctx context.Context, cfg session.Config, addr string) (Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return WrapNetConn(rawConn), nil
	}
	tlsCfg, err := cfg.ClientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return WrapNetConn(conn), nil
}

// developmentTLSConfig creates a throwaway self-signed certificate.
func developmentTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               pkix.Name{CommonName: "relaychat-dev"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS13,
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{session.ALPN},
	}, nil
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}
