// Package addr splits an email address into local part and domain, and
// provides static, network-free pre-checks (disposable domains, role
// accounts, parked MX hosts) to reject or flag obviously unverifiable
// addresses before spending a round trip on them.
package addr

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/net/idna"
)

// Address is an email address split into its syntactic parts.
type Address struct {
	Raw       string
	LocalPart string
	Domain    string
}

// Parse performs a minimal acceptance check: the raw string must contain
// exactly one '@', and both sides must be non-empty. It does not attempt
// full RFC 5322 validation.
func Parse(raw string) (Address, error) {
	at := strings.Count(raw, "@")
	if at != 1 {
		return Address{}, fmt.Errorf("invalid email syntax: expected exactly one '@', found %d", at)
	}
	idx := strings.IndexByte(raw, '@')
	local, domain := raw[:idx], raw[idx+1:]
	if local == "" || domain == "" {
		return Address{}, fmt.Errorf("invalid email syntax: empty local part or domain")
	}
	return Address{Raw: raw, LocalPart: local, Domain: domain}, nil
}

// NormalizeDomain punycode-encodes an internationalized domain to its
// ASCII form so DNS lookups and SMTP wire commands only ever see ASCII.
// The domain is lowercased first, so ASCII domains come back lowercased
// and otherwise unchanged (idna.ToASCII is a no-op for them).
func NormalizeDomain(domain string) (string, error) {
	ascii, err := idna.ToASCII(strings.ToLower(domain))
	if err != nil {
		return "", fmt.Errorf("domain normalization failed: %w", err)
	}
	return ascii, nil
}

// Disposable domains known to be throwaway/burner providers.
var disposableDomains = map[string]struct{}{
	"temp-mail.org": {}, "10minutemail.com": {}, "guerrillamail.com": {},
	"mailinator.com": {}, "yopmail.com": {}, "throwawaymail.com": {},
	"tempmail.net": {}, "sharklasers.com": {}, "dispostable.com": {},
}

// MX hostname suffixes that indicate a parked/inactive domain.
var parkedMXHosts = []string{
	"secureserver.net",
	"parking.reg.ru",
	"namecheap.com",
	"domaincontrol.com",
}

var roleAccounts = map[string]struct{}{
	"admin": {}, "support": {}, "info": {}, "sales": {},
	"contact": {}, "help": {}, "office": {}, "marketing": {},
	"jobs": {}, "billing": {}, "abuse": {}, "postmaster": {},
	"noreply": {}, "no-reply": {}, "webmaster": {}, "hostmaster": {},
	"hr": {},
}

// IsDisposableDomain reports whether domain is a known throwaway provider.
func IsDisposableDomain(domain string) bool {
	_, ok := disposableDomains[strings.ToLower(domain)]
	return ok
}

// IsRoleAccount reports whether the local part is a generic role mailbox
// rather than a person (admin@, support@, ...).
func IsRoleAccount(localPart string) bool {
	_, ok := roleAccounts[strings.ToLower(localPart)]
	return ok
}

// IsParkedMX reports whether an MX hostname belongs to a known
// domain-parking service, meaning the domain is registered but inactive.
func IsParkedMX(mxHost string) bool {
	host := strings.ToLower(mxHost)
	for _, parked := range parkedMXHosts {
		if strings.Contains(host, parked) {
			return true
		}
	}
	return false
}

// Entropy returns the fraction of digit characters in s. High entropy local
// parts ("x9f2k1") are characteristic of generated/burner addresses.
func Entropy(s string) float64 {
	if s == "" {
		return 0
	}
	digits := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	return float64(digits) / float64(len(s))
}

// highEntropyThreshold is the fraction of digit characters above which a
// local part is flagged as likely generated rather than human-chosen.
const highEntropyThreshold = 0.4

// IsHighEntropyLocalPart reports whether localPart looks machine-generated
// (e.g. "x9f2k1a7"), based on its digit density.
func IsHighEntropyLocalPart(localPart string) bool {
	return Entropy(localPart) >= highEntropyThreshold
}
