package session

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"mailcheck/internal/config"
	"mailcheck/internal/errs"
)

// scriptedServer answers each received command line with the next reply
// in replies, in order, over an in-memory net.Pipe.
func scriptedServer(t *testing.T, replies []string) net.Conn {
	t.Helper()
	client, server := net.Pipe()

	go func() {
		r := bufio.NewReader(server)
		for _, reply := range replies {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
			if _, err := server.Write([]byte(reply)); err != nil {
				return
			}
		}
		server.Close()
	}()

	return client
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MinDelay = 0
	cfg.MaxDelay = 1 * time.Millisecond
	cfg.SMTPCommandTimeout = 2 * time.Second
	return cfg
}

func TestHelloSuccess(t *testing.T) {
	c := scriptedServer(t, []string{"250-mx.example.com hi\r\n250 SIZE 100\r\n"})
	defer c.Close()

	s := New(c, "mx.example.com", testConfig())
	resp, err := s.Hello(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 250 {
		t.Fatalf("expected 250, got %d", resp.Code)
	}
	if s.State() != HelloSent {
		t.Fatalf("expected state HELLO_SENT, got %s", s.State())
	}
}

func TestHelloFallsBackToHELO(t *testing.T) {
	c := scriptedServer(t, []string{"500 EHLO unsupported\r\n", "250 mx.example.com hi\r\n"})
	defer c.Close()

	s := New(c, "mx.example.com", testConfig())
	resp, err := s.Hello(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 250 {
		t.Fatalf("expected HELO fallback to succeed with 250, got %d", resp.Code)
	}
	if s.State() != HelloSent {
		t.Fatalf("expected state HELLO_SENT, got %s", s.State())
	}
}

func TestFullSequence(t *testing.T) {
	c := scriptedServer(t, []string{
		"250 hi\r\n",
		"250 OK\r\n",
		"550 5.1.1 no such user\r\n",
	})
	defer c.Close()

	s := New(c, "mx.example.com", testConfig())
	ctx := context.Background()

	if _, err := s.Hello(ctx); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if _, err := s.MailFrom(ctx, ""); err != nil {
		t.Fatalf("mail from: %v", err)
	}
	resp, err := s.RcptTo(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("rcpt to: %v", err)
	}
	if resp.Code != 550 {
		t.Fatalf("expected 550, got %d", resp.Code)
	}
	if s.State() != RcptToSent {
		t.Fatalf("expected state RCPT_TO_SENT, got %s", s.State())
	}
}

func TestRcptToSelfLoop(t *testing.T) {
	c := scriptedServer(t, []string{
		"250 hi\r\n",
		"250 OK\r\n",
		"250 probe accepted\r\n",
		"250 target accepted\r\n",
	})
	defer c.Close()

	s := New(c, "mx.example.com", testConfig())
	ctx := context.Background()

	s.Hello(ctx)
	s.MailFrom(ctx, "")
	if _, err := s.RcptTo(ctx, "probe-abc123@example.com"); err != nil {
		t.Fatalf("probe rcpt: %v", err)
	}
	if s.State() != RcptToSent {
		t.Fatalf("expected RCPT_TO_SENT after probe, got %s", s.State())
	}
	if _, err := s.RcptTo(ctx, "target@example.com"); err != nil {
		t.Fatalf("target rcpt: %v", err)
	}
	if s.State() != RcptToSent {
		t.Fatalf("expected RCPT_TO_SENT after target, got %s", s.State())
	}
}

func TestIllegalTransitionIsProtocolViolation(t *testing.T) {
	c, _ := net.Pipe()
	defer c.Close()

	s := New(c, "mx.example.com", testConfig())
	_, err := s.MailFrom(context.Background(), "")
	if !errs.IsKind(err, errs.KindProtocolViolation) {
		t.Fatalf("expected PROTOCOL_VIOLATION, got %v", err)
	}
}

func TestStrictGatewayDetection(t *testing.T) {
	if !isStrictGateway("mx1.us.mimecast.com") {
		t.Fatal("expected mimecast host to be detected as strict")
	}
	if isStrictGateway("mx.ordinary-host.com") {
		t.Fatal("expected ordinary host not to be flagged strict")
	}
}

func TestQuitIsBestEffort(t *testing.T) {
	c, server := net.Pipe()
	server.Close() // peer already gone

	s := New(c, "mx.example.com", testConfig())
	s.state = HelloSent // pretend we got partway through the sequence
	s.Quit(context.Background())
	if s.State() != QuitSent {
		t.Fatalf("expected QUIT_SENT even after a failed write, got %s", s.State())
	}
}
