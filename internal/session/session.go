// Package session drives one SMTP conversation over an already-connected
// socket: a strictly linear sequence of commands with EHLO->HELO fallback,
// jittered inter-command delays, and buffer-and-reparse response framing.
// The state machine and response framing are owned explicitly here rather
// than handed to net/smtp.Client, so an illegal transition or a malformed
// response surfaces as its own typed failure instead of a generic
// textproto error.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"mailcheck/internal/config"
	"mailcheck/internal/errs"
	"mailcheck/internal/smtpresp"
)

// State is one node of the linear SMTP session state machine.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connected    State = "CONNECTED"
	HelloSent    State = "HELLO_SENT"
	MailFromSent State = "MAIL_FROM_SENT"
	RcptToSent   State = "RCPT_TO_SENT"
	QuitSent     State = "QUIT_SENT"
)

// strictGateways lists MX hostname substrings known to rate-limit or
// tarpit unfamiliar clients; sessions against these widen their jitter
// bands.
var strictGateways = []string{
	"mimecast.com",
	"pphosted.com",
	"barracudanetworks.com",
	"messagelabs.com",
	"iphmx.com",
	"trendmicro.com",
	"trendmicro.eu",
	"sophos.com",
	"mailcontrol.com",
	"mxlogic.net",
	"fireeye.com",
	"mx.cloudflare.net",
}

func isStrictGateway(mxHost string) bool {
	lower := strings.ToLower(mxHost)
	for _, gw := range strictGateways {
		if strings.Contains(lower, gw) {
			return true
		}
	}
	return false
}

// Session drives one SMTP conversation over an already-connected socket,
// from the post-banner state through an optional QUIT.
type Session struct {
	conn      net.Conn
	state     State
	strict    bool
	heloHost  string
	minDelay  time.Duration
	maxDelay  time.Duration
	cmdTimeout time.Duration
	buf       []byte
}

// New wraps c, already past the banner (Connected state), for driving
// through the command sequence against mxHost.
func New(c net.Conn, mxHost string, cfg config.Config) *Session {
	return &Session{
		conn:       c,
		state:      Connected,
		strict:     isStrictGateway(mxHost),
		heloHost:   cfg.DefaultHELO,
		minDelay:   cfg.MinDelay,
		maxDelay:   cfg.MaxDelay,
		cmdTimeout: cfg.SMTPCommandTimeout,
	}
}

// State reports the session's current position in the state machine.
func (s *Session) State() State { return s.state }

// Hello sends EHLO, falling back to HELO if the server rejects it with
// 500, 501, or 502.
func (s *Session) Hello(ctx context.Context) (smtpresp.Response, error) {
	if s.state != Connected {
		return smtpresp.Response{}, errs.New(errs.KindProtocolViolation, fmt.Sprintf("HELLO illegal from state %s", s.state))
	}

	if err := s.delay(ctx, false); err != nil {
		return smtpresp.Response{}, err
	}
	resp, err := s.exchange(ctx, fmt.Sprintf("EHLO %s\r\n", s.heloHost))
	if err != nil {
		return smtpresp.Response{}, err
	}

	if resp.Code == 500 || resp.Code == 501 || resp.Code == 502 {
		if err := s.delay(ctx, true); err != nil {
			return smtpresp.Response{}, err
		}
		resp, err = s.exchange(ctx, fmt.Sprintf("HELO %s\r\n", s.heloHost))
		if err != nil {
			return smtpresp.Response{}, err
		}
	}

	if resp.Classification != smtpresp.Success {
		return resp, errs.New(errs.KindHandshakeFailed, fmt.Sprintf("greeting rejected: %d %s", resp.Code, resp.Message))
	}

	s.state = HelloSent
	return resp, nil
}

// MailFrom sends MAIL FROM:<sender>. sender may be "" for the null
// reverse-path.
func (s *Session) MailFrom(ctx context.Context, sender string) (smtpresp.Response, error) {
	if s.state != HelloSent {
		return smtpresp.Response{}, errs.New(errs.KindProtocolViolation, fmt.Sprintf("MAIL FROM illegal from state %s", s.state))
	}
	if err := s.delay(ctx, false); err != nil {
		return smtpresp.Response{}, err
	}
	resp, err := s.exchange(ctx, fmt.Sprintf("MAIL FROM:<%s>\r\n", sender))
	if err != nil {
		return smtpresp.Response{}, err
	}
	if resp.Classification == smtpresp.Success {
		s.state = MailFromSent
	}
	return resp, nil
}

// RcptTo sends RCPT TO:<recipient>. The state machine allows repeated
// calls from MAIL_FROM_SENT or RCPT_TO_SENT, so the catch-all probe and
// the real target can both be issued in one session.
func (s *Session) RcptTo(ctx context.Context, recipient string) (smtpresp.Response, error) {
	if s.state != MailFromSent && s.state != RcptToSent {
		return smtpresp.Response{}, errs.New(errs.KindProtocolViolation, fmt.Sprintf("RCPT TO illegal from state %s", s.state))
	}
	if err := s.delay(ctx, false); err != nil {
		return smtpresp.Response{}, err
	}
	resp, err := s.exchange(ctx, fmt.Sprintf("RCPT TO:<%s>\r\n", recipient))
	if err != nil {
		return smtpresp.Response{}, err
	}
	s.state = RcptToSent
	return resp, nil
}

// VRFY attempts the legacy VRFY command (gated off by default; see
// config.EnableVRFY) as an opportunistic shortcut to the RCPT-TO probe
// protocol. Legal only from HELLO_SENT, before MAIL FROM — it does not
// advance the state machine, since most servers either disable it or
// answer unreliably and the caller falls through to the normal pipeline
// regardless of the result.
func (s *Session) VRFY(ctx context.Context, mailbox string) (smtpresp.Response, error) {
	if s.state != HelloSent {
		return smtpresp.Response{}, errs.New(errs.KindProtocolViolation, fmt.Sprintf("VRFY illegal from state %s", s.state))
	}
	if err := s.delay(ctx, false); err != nil {
		return smtpresp.Response{}, err
	}
	return s.exchange(ctx, fmt.Sprintf("VRFY %s\r\n", mailbox))
}

// Quit sends QUIT on a best-effort basis: any error is swallowed, since the
// verdict has already been determined by the time this is called.
func (s *Session) Quit(ctx context.Context) {
	if s.state == Disconnected || s.state == QuitSent {
		return
	}
	s.exchange(ctx, "QUIT\r\n")
	s.state = QuitSent
}

// delay sleeps a jittered interval before issuing the next command,
// mimicking human typing cadence against gateways that tarpit
// machine-speed SMTP traffic. Strict gateways get a widened, fixed 1s
// delay in addition to the normal jitter band.
func (s *Session) delay(ctx context.Context, helloFallback bool) error {
	lo, hi := s.minDelay, s.maxDelay
	if helloFallback {
		lo, hi = 200*time.Millisecond, 400*time.Millisecond
	}

	wait := jitter(lo, hi)
	if s.strict {
		wait += 1 * time.Second
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return errs.Wrap(errs.KindSocketTimeout, "context cancelled during command pacing", ctx.Err())
	}
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	span := hi - lo
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)))
	if err != nil {
		return lo
	}
	return lo + time.Duration(n.Int64())
}

// exchange writes cmd, then reads and frames a complete response,
// re-parsing the accumulating buffer after every socket read so a
// multi-line reply split across TCP segments is never misread as
// complete.
func (s *Session) exchange(ctx context.Context, cmd string) (smtpresp.Response, error) {
	deadline := time.Now().Add(s.cmdTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	s.conn.SetDeadline(deadline)

	if _, err := s.conn.Write([]byte(cmd)); err != nil {
		return smtpresp.Response{}, errs.Wrap(errs.KindSMTPSocketError, "failed to write command", err)
	}

	chunk := make([]byte, 4096)
	for {
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if resp, perr := smtpresp.Parse(s.buf); perr == nil {
			s.buf = nil
			return resp, nil
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return smtpresp.Response{}, errs.New(errs.KindSocketTimeout, "timed out waiting for SMTP response")
			}
			return smtpresp.Response{}, errs.Wrap(errs.KindSMTPSocketError, "connection closed before response completed", err)
		}
	}
}
