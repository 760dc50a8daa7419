// Package dnsresolve resolves MX records across an ordered list of DNS
// tiers, each with its own nameservers, retry budget, and backoff. Queries
// go straight to github.com/miekg/dns against explicit nameserver
// addresses rather than through net.Resolver, so failures can be
// classified by RCODE (NXDOMAIN vs SERVFAIL vs timeout) instead of a
// generic lookup error.
package dnsresolve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"mailcheck/internal/config"
	"mailcheck/internal/errs"
	"mailcheck/internal/metrics"
)

// Record is a resolved MX record: exchange hostname plus priority, the
// priority being the preference value carried in the MX answer.
type Record struct {
	Exchange string
	Priority uint16
}

var domainRE = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,63}$`)

// ValidateDomain checks basic domain syntax: labels of 1-63 LDH
// characters, at least one dot, total length <= 253.
func ValidateDomain(domain string) error {
	if len(domain) == 0 || len(domain) > 253 {
		return errs.New(errs.KindDNSInvalidDomain, "domain length out of range")
	}
	if !domainRE.MatchString(domain) {
		return errs.New(errs.KindDNSInvalidDomain, fmt.Sprintf("domain %q fails syntax check", domain))
	}
	return nil
}

// Resolver resolves MX records across the configured DNS tiers.
type Resolver struct {
	tiers   []config.DNSTier
	retries int
	timeout time.Duration
	log     *zap.SugaredLogger
}

// New builds a Resolver from the frozen Config.
func New(cfg config.Config, log *zap.SugaredLogger) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Resolver{
		tiers:   cfg.Tiers(),
		retries: cfg.DNSRetries,
		timeout: cfg.DNSLookupTimeout,
		log:     log,
	}
}

// ResolveMX returns a non-empty, ascending-priority-sorted list of MX
// records for domain, or a classified *errs.Error. It never returns a
// success with an empty list.
func (r *Resolver) ResolveMX(ctx context.Context, domain string) ([]Record, error) {
	if err := ValidateDomain(domain); err != nil {
		return nil, err
	}

	var lastErr error
	for tierIdx, tier := range r.tiers {
		if len(tier) == 0 {
			continue
		}
		records, err := r.resolveOnTier(ctx, domain, tier, tierIdx+1)
		if err == nil {
			return records, nil
		}
		lastErr = err

		if isHardFail(err) {
			return nil, err
		}
		// Soft fail / timeout: fall through to the next tier.
	}

	if lastErr == nil {
		lastErr = errs.New(errs.KindDNSSoftFail, "no DNS tiers configured")
	}
	return nil, lastErr
}

func isHardFail(err error) bool {
	return errs.IsKind(err, errs.KindDNSHardFail) ||
		errs.IsKind(err, errs.KindDNSInvalidDomain) ||
		errs.IsKind(err, errs.KindDNSNoMXRecords)
}

// resolveOnTier attempts up to r.retries+1 queries against the given tier's
// nameservers, backing off exponentially (base 500ms) between soft-fail
// attempts.
func (r *Resolver) resolveOnTier(ctx context.Context, domain string, tier config.DNSTier, tierNum int) ([]Record, error) {
	var lastErr error
	attempts := r.retries + 1

	for attempt := 1; attempt <= attempts; attempt++ {
		records, err := r.queryOnce(ctx, domain, tier[(attempt-1)%len(tier)])
		if err == nil {
			r.log.Debugw("mx resolved", "domain", domain, "tier", tierNum, "attempt", attempt)
			metrics.DNSTierUsedTotal.WithLabelValues(strconv.Itoa(tierNum)).Inc()
			return records, nil
		}
		lastErr = err

		if isHardFail(err) {
			return nil, err
		}

		if attempt < attempts {
			backoff := 500 * time.Millisecond * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, errs.Wrap(errs.KindDNSTimeout, "context cancelled during backoff", ctx.Err())
			}
		}
	}
	return nil, lastErr
}

func (r *Resolver) queryOnce(ctx context.Context, domain, nameserver string) ([]Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeMX)
	msg.RecursionDesired = true

	client := new(dns.Client)
	client.Timeout = r.timeout

	type result struct {
		resp *dns.Msg
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, _, err := client.ExchangeContext(queryCtx, msg, nameserver)
		ch <- result{resp, err}
	}()

	select {
	case <-queryCtx.Done():
		return nil, errs.Wrap(errs.KindDNSTimeout, fmt.Sprintf("query to %s timed out", nameserver), queryCtx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, classifyDialError(res.err)
		}
		return classifyResponse(res.resp, domain)
	}
}

func classifyDialError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "i/o timeout"):
		return errs.Wrap(errs.KindDNSTimeout, "dns query timed out", err)
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "network is unreachable"):
		return errs.Wrap(errs.KindDNSSoftFail, "dns server unreachable", err)
	default:
		return errs.Wrap(errs.KindDNSSoftFail, "dns query failed", err)
	}
}

func classifyResponse(resp *dns.Msg, domain string) ([]Record, error) {
	if resp == nil {
		return nil, errs.New(errs.KindDNSSoftFail, "empty DNS response")
	}

	switch resp.Rcode {
	case dns.RcodeNameError: // NXDOMAIN
		return nil, errs.New(errs.KindDNSHardFail, fmt.Sprintf("domain %q does not exist", domain))
	case dns.RcodeServerFailure, dns.RcodeRefused, dns.RcodeNotImplemented:
		return nil, errs.New(errs.KindDNSSoftFail, fmt.Sprintf("dns server returned rcode %d", resp.Rcode))
	case dns.RcodeSuccess:
		// fall through to record extraction
	default:
		return nil, errs.New(errs.KindDNSSoftFail, fmt.Sprintf("dns server returned rcode %d", resp.Rcode))
	}

	var records []Record
	for _, rr := range resp.Answer {
		mx, ok := rr.(*dns.MX)
		if !ok {
			continue
		}
		exchange := strings.TrimSuffix(mx.Mx, ".")
		pref := mx.Preference
		if pref == 0 && exchange == "" {
			continue
		}
		records = append(records, Record{Exchange: exchange, Priority: pref})
	}

	if len(records) == 0 {
		return nil, errs.New(errs.KindDNSNoMXRecords, fmt.Sprintf("no MX records found for %q", domain))
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Priority < records[j].Priority
	})

	return records, nil
}
