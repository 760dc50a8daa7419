// Package result translates a Verdict into the five-boolean public result
// schema exposed over the CLI.
package result

import "regexp"

// Public is the externally visible result of one verification.
type Public struct {
	CanConnectSMTP bool `json:"can_connect_smtp"`
	IsDeliverable  bool `json:"is_deliverable"`
	IsCatchAll     bool `json:"is_catch_all"`
	HasFullInbox   bool `json:"has_full_inbox"`
	IsDisabled     bool `json:"is_disabled"`
}

var fullInboxRE = regexp.MustCompile(`(?i)quota|full|insufficient storage|storage exceeded|limit exceeded`)
var disabledRE = regexp.MustCompile(`(?i)disabled|suspended|inactive|deactivated|account closed|not active`)

var fullInboxCodes = map[int]bool{452: true, 552: true, 554: true}

// deliverableStatus is the subset of verify.Status values (duplicated here
// as plain strings to avoid importing verify, keeping this package a leaf)
// that map to is_deliverable = true before the full-inbox/disabled
// overrides are applied.
func deliverableStatus(status string) bool {
	return status == "VALID" || status == "CATCH_ALL"
}

// FromVerdict maps a Verdict's fields to the public result. status,
// catchAllActive, smtpCode/hasSMTPCode, and smtpMessage are kept as plain
// parameters (rather than importing verify.Verdict) so this package has no
// dependency on the orchestration layer it serves.
func FromVerdict(status string, catchAllActive bool, hasSMTPCode bool, smtpCode int, smtpMessage string) Public {
	p := Public{
		CanConnectSMTP: hasSMTPCode,
		IsDeliverable:  deliverableStatus(status),
		IsCatchAll:     status == "CATCH_ALL" || catchAllActive,
	}

	if hasSMTPCode {
		if fullInboxCodes[smtpCode] && fullInboxRE.MatchString(smtpMessage) {
			p.HasFullInbox = true
			p.IsDeliverable = false
		}
		if smtpCode == 550 && disabledRE.MatchString(smtpMessage) {
			p.IsDisabled = true
			p.IsDeliverable = false
		}
	}

	return p
}
