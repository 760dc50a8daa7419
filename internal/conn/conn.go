// Package conn dials an SMTP exchanger, directly or through a SOCKS5
// proxy, with independently budgeted proxy-handshake and SMTP-banner
// timeouts so a verification run can tell a misconfigured proxy apart
// from an unresponsive mail server. The SOCKS5 client speaks the RFC 1928
// CONNECT handshake directly rather than through a generic SOCKS library,
// so the raw reply code is available to callers instead of being
// collapsed into an opaque error string.
package conn

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mailcheck/internal/config"
	"mailcheck/internal/errs"
)

// Outcome is a successfully established connection: socket, banner text,
// and the banner's numeric code, with the SOCKS5 flag recording whether
// the path went through a proxy (useful for verifier diagnostics).
type Outcome struct {
	Conn       net.Conn
	Banner     string
	BannerCode int
	ProxyUsed  bool
}

// Dialer opens SMTP connections, directly or through a round-robin pool
// of SOCKS5 proxies.
type Dialer struct {
	cfg   config.Config
	pool  *Pool
	log   *zap.SugaredLogger
}

func New(cfg config.Config, log *zap.SugaredLogger) *Dialer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dialer{cfg: cfg, pool: NewPool(cfg.ProxyURLs), log: log}
}

// Connect opens a connection to host:port, directly or through the
// configured SOCKS5 proxy, and waits for the SMTP banner. The caller owns
// the returned Outcome.Conn on success; on any error, no socket is leaked.
func (d *Dialer) Connect(ctx context.Context, host string, port int) (Outcome, error) {
	target := net.JoinHostPort(host, strconv.Itoa(port))

	lifetimeCtx, cancel := context.WithTimeout(ctx, d.cfg.ConnectionLifetime)
	defer cancel()

	var (
		c         net.Conn
		proxyUsed bool
		err       error
	)

	if proxyURL := d.pool.Next(); proxyURL != nil {
		c, err = d.dialSOCKS5(lifetimeCtx, target, proxyURL)
		proxyUsed = true
	} else {
		c, err = d.dialDirect(lifetimeCtx, target)
	}
	if err != nil {
		d.log.Warnw("connect failed", "target", target, "proxy", proxyUsed, "error", err)
		return Outcome{}, err
	}

	banner, code, err := d.readBanner(lifetimeCtx, c)
	if err != nil {
		c.Close()
		d.log.Warnw("banner read failed", "target", target, "error", err)
		return Outcome{}, err
	}

	d.log.Debugw("connected", "target", target, "proxy", proxyUsed, "banner_code", code)
	return Outcome{Conn: c, Banner: banner, BannerCode: code, ProxyUsed: proxyUsed}, nil
}

func (d *Dialer) dialDirect(ctx context.Context, target string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, d.cfg.TCPConnectTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: d.cfg.TCPConnectTimeout}
	c, err := dialer.DialContext(dialCtx, "tcp", target)
	if err != nil {
		if dialCtx.Err() != nil {
			return nil, errs.Wrap(errs.KindSocketTimeout, "tcp connect timed out", err)
		}
		return nil, errs.Wrap(errs.KindSMTPConnectionFailed, "tcp connect failed", err)
	}
	return c, nil
}

// dialSOCKS5 establishes TCP to the proxy, then speaks the RFC 1928
// CONNECT negotiation to reach target. Every failure up to and including
// a non-success CONNECT reply is a proxy-phase (or attributed
// target-phase) error, never a bare SMTP one.
func (d *Dialer) dialSOCKS5(ctx context.Context, target string, proxyURL *url.URL) (net.Conn, error) {
	handshakeCtx, cancel := context.WithTimeout(ctx, d.cfg.ProxyHandshakeTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: d.cfg.ProxyHandshakeTimeout}
	pc, err := dialer.DialContext(handshakeCtx, "tcp", proxyURL.Host)
	if err != nil {
		if handshakeCtx.Err() != nil {
			return nil, errs.WithPhase(errs.New(errs.KindProxyHandshakeTimeout, "proxy handshake timed out dialing proxy"), errs.PhaseProxy)
		}
		return nil, errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "failed to dial proxy", err), errs.PhaseProxy)
	}

	type handshakeResult struct {
		err error
	}
	done := make(chan handshakeResult, 1)
	go func() {
		done <- handshakeResult{err: socks5Connect(pc, target, proxyURL)}
	}()

	select {
	case <-handshakeCtx.Done():
		pc.Close()
		return nil, errs.WithPhase(errs.New(errs.KindProxyHandshakeTimeout, "socks5 handshake timed out"), errs.PhaseProxy)
	case res := <-done:
		if res.err != nil {
			pc.Close()
			return nil, res.err
		}
		return pc, nil
	}
}

// socksReplyAttribution maps a SOCKS5 CONNECT reply code to the phase
// (proxy or target) it is attributable to and a human-readable label.
type socksReplyAttribution struct {
	phase     errs.Phase
	retryable bool
	label     string
}

var socksReplies = map[byte]socksReplyAttribution{
	0x00: {errs.PhaseNone, false, "SUCCESS"},
	0x01: {errs.PhaseProxy, true, "GENERAL_FAILURE"},
	0x02: {errs.PhaseProxy, false, "RULESET_VIOLATION"},
	0x03: {errs.PhaseTarget, false, "NETWORK_UNREACHABLE"},
	0x04: {errs.PhaseTarget, false, "HOST_UNREACHABLE"},
	0x05: {errs.PhaseTarget, false, "CONNECTION_REFUSED"},
	0x06: {errs.PhaseTarget, false, "TTL_EXPIRED"},
	0x07: {errs.PhaseProxy, false, "COMMAND_NOT_SUPPORTED"},
	0x08: {errs.PhaseProxy, false, "ADDRESS_TYPE_NOT_SUPPORTED"},
	0xFF: {errs.PhaseProxy, false, "NO_AUTH_METHODS"},
}

// socks5Connect speaks the client side of RFC 1928's CONNECT command over
// an already-open TCP connection to the proxy, optionally authenticating
// with username/password (proxyURL.User).
func socks5Connect(c net.Conn, target string, proxyURL *url.URL) error {
	methods := []byte{0x00} // no auth
	var username, password string
	if proxyURL.User != nil {
		username = proxyURL.User.Username()
		password, _ = proxyURL.User.Password()
		methods = []byte{0x02, 0x00}
	}

	greeting := append([]byte{0x05, byte(len(methods))}, methods...)
	if _, err := c.Write(greeting); err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "failed to write socks5 greeting", err), errs.PhaseProxy)
	}

	r := bufio.NewReader(c)
	reply := make([]byte, 2)
	if _, err := readFull(r, reply); err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "failed to read socks5 method selection", err), errs.PhaseProxy)
	}
	if reply[0] != 0x05 {
		return errs.WithPhase(errs.New(errs.KindProxyConnectionFailed, "proxy is not a SOCKS5 server"), errs.PhaseProxy)
	}
	selected := reply[1]
	if selected == 0xFF {
		return makeSOCKSError(0xFF)
	}

	if selected == 0x02 {
		if err := socks5Authenticate(r, c, username, password); err != nil {
			return err
		}
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "invalid target address", err), errs.PhaseProxy)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "invalid target port", err), errs.PhaseProxy)
	}

	req := []byte{0x05, 0x01, 0x00} // VER, CMD=CONNECT, RSV
	req = append(req, 0x03, byte(len(host)))
	req = append(req, []byte(host)...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(port))
	req = append(req, portBytes...)

	if _, err := c.Write(req); err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "failed to write socks5 CONNECT", err), errs.PhaseProxy)
	}

	connReply := make([]byte, 4)
	if _, err := readFull(r, connReply); err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyConnectionFailed, "failed to read socks5 CONNECT reply", err), errs.PhaseProxy)
	}
	repCode := connReply[1]
	if repCode != 0x00 {
		return makeSOCKSError(repCode)
	}

	// Consume and discard the bound-address portion of the reply so the
	// stream is positioned at the start of the tunneled protocol.
	switch connReply[3] {
	case 0x01: // IPv4
		discard := make([]byte, 4+2)
		readFull(r, discard)
	case 0x03: // domain
		lenByte := make([]byte, 1)
		readFull(r, lenByte)
		discard := make([]byte, int(lenByte[0])+2)
		readFull(r, discard)
	case 0x04: // IPv6
		discard := make([]byte, 16+2)
		readFull(r, discard)
	}

	return nil
}

func socks5Authenticate(r *bufio.Reader, c net.Conn, username, password string) error {
	req := []byte{0x01, byte(len(username))}
	req = append(req, []byte(username)...)
	req = append(req, byte(len(password)))
	req = append(req, []byte(password)...)
	if _, err := c.Write(req); err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyAuthFailed, "failed to write socks5 auth", err), errs.PhaseProxy)
	}
	reply := make([]byte, 2)
	if _, err := readFull(r, reply); err != nil {
		return errs.WithPhase(errs.Wrap(errs.KindProxyAuthFailed, "failed to read socks5 auth reply", err), errs.PhaseProxy)
	}
	if reply[1] != 0x00 {
		return errs.WithPhase(errs.New(errs.KindProxyAuthFailed, "socks5 authentication rejected"), errs.PhaseProxy)
	}
	return nil
}

func makeSOCKSError(code byte) error {
	attr, ok := socksReplies[code]
	if !ok {
		attr = socksReplyAttribution{errs.PhaseProxy, false, fmt.Sprintf("UNKNOWN_0x%02x", code)}
	}
	kind := errs.KindSMTPConnectionFailed
	if attr.phase == errs.PhaseProxy {
		kind = errs.KindProxyAuthFailed
	}
	e := &errs.Error{
		Kind:         kind,
		Message:      fmt.Sprintf("socks5 CONNECT failed: %s", attr.label),
		Phase:        attr.phase,
		SOCKSCode:    code,
		HasSOCKSCode: true,
	}
	return e
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// readBanner waits for one data chunk within the banner timer and
// validates it starts with "220" plus a space or hyphen.
func (d *Dialer) readBanner(ctx context.Context, c net.Conn) (string, int, error) {
	bannerCtx, cancel := context.WithTimeout(ctx, d.cfg.SMTPBannerTimeout)
	defer cancel()

	c.SetReadDeadline(time.Now().Add(d.cfg.SMTPBannerTimeout))
	if dl, ok := bannerCtx.Deadline(); ok {
		c.SetReadDeadline(dl)
	}

	buf := make([]byte, 4096)
	n, err := c.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return "", 0, errs.New(errs.KindSMTPBannerTimeout, "timed out waiting for SMTP banner")
		}
		return "", 0, errs.Wrap(errs.KindSMTPConnectionFailed, "failed to read SMTP banner", err)
	}

	banner := string(buf[:n])
	if len(banner) < 4 || banner[:3] != "220" || (banner[3] != ' ' && banner[3] != '-') {
		return "", 0, errs.New(errs.KindSMTPBannerInvalid, fmt.Sprintf("unexpected banner: %q", strings.TrimSpace(banner)))
	}

	return banner, 220, nil
}

// Close attempts a clean shutdown, giving the peer up to 1s to
// acknowledge, then force-closes.
func Close(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		tc.SetLinger(0)
		tc.CloseWrite()
		tc.SetReadDeadline(time.Now().Add(1 * time.Second))
		buf := make([]byte, 512)
		for {
			if _, err := tc.Read(buf); err != nil {
				break
			}
		}
	}
	c.Close()
}
