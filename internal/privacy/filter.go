// Package privacy screens outbound records for sensitive content before
// they reach the ledger, a certificate, or the log stream. Records that
// fail review must never be externalized; the pipeline aborts instead of
// silently committing "cleaned" content.
package privacy

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrViolation is returned when sensitive content is detected in a
// record destined for external storage.
var ErrViolation = errors.New("privacy violation")

// Context identifies where a record is headed; each destination has its
// own field allowlist.
type Context int

const (
	// ContextLedger covers records destined for ledger commitment.
	ContextLedger Context = iota
	// ContextCertificate covers fields rendered into certificates.
	ContextCertificate
	// ContextLog covers attributes bound for the log stream.
	ContextLog
)

// maxLedgerFieldLen caps free-text field sizes for ledger records;
// anything larger belongs behind a hash, not on the ledger.
const maxLedgerFieldLen = 256

// Violation describes one detected privacy problem in a record.
type Violation struct {
	Field  string // Field is the offending record field
	Kind   string // Kind names the detector that fired
	Detail string // Detail is a human-readable description (never the raw value)
}

// Result is the outcome of reviewing a record.
type Result struct {
	Safe       map[string]string // Safe holds fields that passed review, sensitive spans redacted
	Violations []Violation       // Violations lists everything detected
	Dropped    []string          // Dropped lists fields removed by the allowlist
}

// Err returns ErrViolation (wrapped with detail) if any violation was
// detected, nil otherwise.
func (r Result) Err() error {
	if len(r.Violations) == 0 {
		return nil
	}

	kinds := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		kinds = append(kinds, v.Kind)
	}
	sort.Strings(kinds)

	return fmt.Errorf("%w: %s", ErrViolation, strings.Join(kinds, ", "))
}

// detector pairs a pattern name with its compiled expression.
type detector struct {
	name    string
	pattern *regexp.Regexp
}

// Filter applies a fixed set of sensitive-pattern detectors and
// per-destination field allowlists. Safe to share across goroutines.
type Filter struct {
	detectors  []detector
	fieldNames []string
	allowed    map[Context]map[string]bool
}

// New creates a filter with the standard detector set.
func New() *Filter {
	return &Filter{
		detectors: []detector{
			{"email", regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
			{"phone", regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`)},
			{"national_id", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
			{"payment_card", regexp.MustCompile(`\b\d{4}[- ]\d{4}[- ]\d{4}[- ]\d{4}\b`)},
			{"mac_address", regexp.MustCompile(`\b([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`)},
			{"windows_path", regexp.MustCompile(`[A-Za-z]:\\[^<>:"|?*\s]+`)},
			{"unix_path", regexp.MustCompile(`(?:/[A-Za-z0-9._-]+){2,}`)},
			{"domain_account", regexp.MustCompile(`\b[A-Za-z0-9._-]+\\[A-Za-z0-9._-]+\b`)},
		},
		fieldNames: []string{
			"password", "secret", "token", "credential", "private_key",
			"pii", "personal", "raw_data", "file_content", "user_data",
			"customer", "recovery",
		},
		allowed: map[Context]map[string]bool{
			ContextLedger: fieldSet(
				"device_id", "digest", "timestamp", "method",
				"operator", "ledger_tx", "sequence", "passes",
			),
			ContextCertificate: fieldSet(
				"device_id", "digest", "timestamp", "method",
				"operator", "ledger_tx", "sequence", "passes",
				"verification_code", "certificate_hash",
			),
			ContextLog: fieldSet(
				"operation_id", "device_id", "method", "timestamp",
				"success", "error_kind", "duration", "passes",
				"step", "digest", "ledger_tx", "sequence", "operator",
			),
		},
	}
}

// fieldSet builds a lookup set from field names.
func fieldSet(names ...string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// Review screens a record for the given destination. Fields outside the
// destination allowlist are dropped; allowed fields are scanned by every
// detector and sensitive spans are redacted in place. Reviewing an
// already-safe record returns it unchanged with no violations.
func (f *Filter) Review(record map[string]string, ctx Context) Result {
	res := Result{Safe: make(map[string]string, len(record))}
	allowed := f.allowed[ctx]

	// Deterministic field order for stable violation reporting.
	fields := make([]string, 0, len(record))
	for name := range record {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	for _, name := range fields {
		value := record[name]

		if !allowed[name] {
			res.Dropped = append(res.Dropped, name)

			if f.sensitiveFieldName(name) {
				res.Violations = append(res.Violations, Violation{
					Field:  name,
					Kind:   "sensitive_field",
					Detail: fmt.Sprintf("field %q names sensitive data and is not allowed here", name),
				})
			}
			continue
		}

		redacted, hits := f.scan(value)
		for _, kind := range hits {
			res.Violations = append(res.Violations, Violation{
				Field:  name,
				Kind:   kind,
				Detail: fmt.Sprintf("field %q matches %s pattern", name, kind),
			})
		}

		if ctx == ContextLedger && len(value) > maxLedgerFieldLen {
			res.Violations = append(res.Violations, Violation{
				Field:  name,
				Kind:   "oversized_field",
				Detail: fmt.Sprintf("field %q exceeds %d bytes", name, maxLedgerFieldLen),
			})
		}

		res.Safe[name] = redacted
	}

	return res
}

// scan redacts every detector match in value and returns the names of
// the detectors that fired.
func (f *Filter) scan(value string) (string, []string) {
	var hits []string

	for _, d := range f.detectors {
		if !d.pattern.MatchString(value) {
			continue
		}

		hits = append(hits, d.name)
		value = d.pattern.ReplaceAllString(value, "["+strings.ToUpper(d.name)+"]")
	}

	return value, hits
}

// sensitiveFieldName reports whether a field name itself indicates
// sensitive data.
func (f *Filter) sensitiveFieldName(name string) bool {
	lower := strings.ToLower(name)

	for _, s := range f.fieldNames {
		if strings.Contains(lower, s) {
			return true
		}
	}

	return false
}

// SanitizeError strips sensitive spans from an error message so it can
// be journaled and logged. Falls back to redacting long opaque tokens
// that look like keys or credentials.
func (f *Filter) SanitizeError(msg string) string {
	for _, d := range f.detectors {
		msg = d.pattern.ReplaceAllString(msg, "["+strings.ToUpper(d.name)+"]")
	}

	return longTokenPattern.ReplaceAllString(msg, "[REDACTED]")
}

// longTokenPattern matches base64-like runs long enough to be key material.
var longTokenPattern = regexp.MustCompile(`\b[A-Za-z0-9+/]{24,}={0,2}\b`)
