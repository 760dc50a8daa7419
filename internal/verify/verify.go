// Package verify implements the Verifier: the orchestration layer that
// turns a DNS resolution, a connection, and an SMTP session into one
// Verdict, using a deterministic table over the probe and target SMTP
// responses rather than a weighted heuristic score.
package verify

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"mailcheck/internal/addr"
	"mailcheck/internal/conn"
	"mailcheck/internal/config"
	"mailcheck/internal/dnsresolve"
	"mailcheck/internal/errs"
	"mailcheck/internal/metrics"
	"mailcheck/internal/result"
	"mailcheck/internal/session"
	"mailcheck/internal/smtpresp"
)

// Status is one of the five verdict symbols. RISKY is retained for
// forward compatibility but this package never assigns it.
type Status string

const (
	Valid    Status = "VALID"
	Invalid  Status = "INVALID"
	CatchAll Status = "CATCH_ALL"
	Unknown  Status = "UNKNOWN"
	Risky    Status = "RISKY"
)

// Details carries the raw SMTP signals a Verdict was derived from.
type Details struct {
	SMTPCode       int
	HasSMTPCode    bool
	SMTPMessage    string
	CatchAllActive bool
	Greylisted     bool

	// IsRoleAccount flags generic mailboxes (admin@, support@, ...). It is
	// metadata only: role accounts are still real, deliverable addresses,
	// so this never changes Status — callers doing list hygiene or
	// marketing sends can filter on it themselves.
	IsRoleAccount bool

	// IsHighEntropyLocalPart flags local parts with a high digit density,
	// characteristic of machine-generated or burner addresses. Metadata
	// only, same as IsRoleAccount.
	IsHighEntropyLocalPart bool
}

// Verdict is the Verifier's full output.
type Verdict struct {
	Email   string
	Domain  string
	MX      string
	Status  Status
	Reason  string
	Details Details
}

// Verifier runs the DNS -> connect -> SMTP pipeline against one address.
type Verifier struct {
	cfg      config.Config
	resolver *dnsresolve.Resolver
	dialer   *conn.Dialer
	log      *zap.SugaredLogger
}

func New(cfg config.Config, log *zap.SugaredLogger) *Verifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Verifier{
		cfg:      cfg,
		resolver: dnsresolve.New(cfg, log),
		dialer:   conn.New(cfg, log),
		log:      log,
	}
}

// Verify runs the full pipeline against email and returns a Verdict. It
// never returns a Go error for an ordinary verification failure — every
// failure mode is folded into an UNKNOWN or INVALID Verdict instead.
func (v *Verifier) Verify(ctx context.Context, email string) (verdict Verdict) {
	metrics.AttemptsTotal.Inc()
	defer func() {
		metrics.VerdictTotal.WithLabelValues(string(verdict.Status)).Inc()
	}()

	address, err := addr.Parse(email)
	if err != nil {
		return Verdict{Email: email, Status: Invalid, Reason: "Invalid email syntax"}
	}

	domain, err := addr.NormalizeDomain(address.Domain)
	if err != nil {
		return Verdict{Email: email, Domain: address.Domain, Status: Invalid, Reason: "Invalid email syntax"}
	}

	isRole := addr.IsRoleAccount(address.LocalPart)
	highEntropy := addr.IsHighEntropyLocalPart(address.LocalPart)
	defer func() {
		verdict.Details.IsRoleAccount = isRole
		verdict.Details.IsHighEntropyLocalPart = highEntropy
	}()

	if addr.IsDisposableDomain(domain) {
		return Verdict{Email: email, Domain: domain, Status: Invalid, Reason: "Disposable domain"}
	}

	records, err := v.resolver.ResolveMX(ctx, domain)
	if err != nil || len(records) == 0 {
		return Verdict{Email: email, Domain: domain, Status: Invalid, Reason: "No MX records found"}
	}
	mx := records[0].Exchange

	if addr.IsParkedMX(mx) {
		return Verdict{Email: email, Domain: domain, MX: mx, Status: Invalid, Reason: "Domain parked (no mail service)"}
	}

	v.log.Debugw("dialing exchanger", "domain", domain, "mx", mx)

	outcome, err := v.dialer.Connect(ctx, mx, v.cfg.SMTPPort)
	if err != nil {
		return Verdict{Email: email, Domain: domain, MX: mx, Status: Unknown, Reason: errorReason(err)}
	}
	defer conn.Close(outcome.Conn)

	sess := session.New(outcome.Conn, mx, v.cfg)

	if _, err := sess.Hello(ctx); err != nil {
		return Verdict{Email: email, Domain: domain, MX: mx, Status: Unknown, Reason: errorReason(err)}
	}

	if v.cfg.EnableVRFY {
		if vrfyResp, err := sess.VRFY(ctx, address.Raw); err == nil && vrfyResp.Classification == smtpresp.Success {
			sess.Quit(ctx)
			return Verdict{
				Email: email, Domain: domain, MX: mx,
				Status: Valid, Reason: "Recipient accepted (VRFY)",
				Details: Details{SMTPCode: vrfyResp.Code, HasSMTPCode: true, SMTPMessage: vrfyResp.Message},
			}
		}
		// Any other VRFY outcome (disabled, rejected, error) is inconclusive
		// by itself — fall through to the RCPT-TO probe protocol.
	}

	senderEmail := fmt.Sprintf("verify@%s", domain)
	if _, err := sess.MailFrom(ctx, senderEmail); err != nil {
		return Verdict{Email: email, Domain: domain, MX: mx, Status: Unknown, Reason: errorReason(err)}
	}

	probeAddr := fmt.Sprintf("%s@%s", randomLocalPart(), domain)
	probeResp, err := sess.RcptTo(ctx, probeAddr)
	if err != nil {
		sess.Quit(ctx)
		return Verdict{Email: email, Domain: domain, MX: mx, Status: Unknown, Reason: errorReason(err)}
	}

	targetResp, err := sess.RcptTo(ctx, address.Raw)
	sess.Quit(ctx)
	if err != nil {
		return Verdict{Email: email, Domain: domain, MX: mx, Status: Unknown, Reason: errorReason(err)}
	}

	return synthesize(email, domain, mx, probeResp, targetResp)
}

// synthesize applies the verdict table to a pair of SMTP responses: the
// catch-all probe's RCPT TO and the real target's RCPT TO.
func synthesize(email, domain, mx string, probe, target smtpresp.Response) Verdict {
	details := Details{
		SMTPCode:       target.Code,
		HasSMTPCode:    true,
		SMTPMessage:    target.Message,
		CatchAllActive: probe.Classification == smtpresp.Success,
		Greylisted:     probe.Classification == smtpresp.TransientFail || target.Classification == smtpresp.TransientFail,
	}

	base := Verdict{Email: email, Domain: domain, MX: mx, Details: details}

	switch {
	case probe.Classification == smtpresp.TransientFail || target.Classification == smtpresp.TransientFail:
		base.Status = Unknown
		base.Reason = "Greylisted"
	case target.Classification == smtpresp.PermanentFail:
		base.Status = Invalid
		base.Reason = "Recipient rejected"
	case target.Classification == smtpresp.Success && probe.Classification == smtpresp.Success:
		base.Status = CatchAll
		base.Reason = "Domain is Catch-All"
	case target.Classification == smtpresp.Success:
		base.Status = Valid
		base.Reason = "Recipient accepted"
	default:
		base.Status = Unknown
		base.Reason = fmt.Sprintf("unexpected response: %d %s", target.Code, target.Message)
	}

	return base
}

func errorReason(err error) string {
	if e, ok := err.(*errs.Error); ok {
		return e.Error()
	}
	return err.Error()
}

// Public maps the Verdict to the external JSON schema.
func (vd Verdict) Public() result.Public {
	return result.FromVerdict(string(vd.Status), vd.Details.CatchAllActive, vd.Details.HasSMTPCode, vd.Details.SMTPCode, vd.Details.SMTPMessage)
}

// randomLocalPart generates the catch-all probe's local part:
// "verify-" followed by 12 random hex characters, e.g.
// "verify-1a2b3c4d5e6f".
func randomLocalPart() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "verify-000000000000"
	}
	return "verify-" + hex.EncodeToString(buf)
}
