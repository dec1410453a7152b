package httpcheck

import (
	"fmt"
	"strings"
)

// Verdict is the terminal classification of a check.
type Verdict int

const (
	Valid Verdict = iota
	Warning
	Invalid
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "valid"
	case Warning:
		return "warning"
	case Invalid:
		return "invalid"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// MarshalText encodes the verdict as its lower-case name.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes a lower-case verdict name.
func (v *Verdict) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "valid":
		*v = Valid
	case "warning":
		*v = Warning
	case "invalid":
		*v = Invalid
	default:
		return fmt.Errorf("unknown verdict %q", b)
	}
	return nil
}

// Result is what a check reports: one verdict with its message, the
// warnings collected on the way and the URL the check ended on.
type Result struct {
	URL          string   `json:"url"`
	EffectiveURL string   `json:"effective_url"`
	Verdict      Verdict  `json:"verdict"`
	Message      string   `json:"message"`
	Warnings     []string `json:"warnings,omitempty"`
	StatusCode   int      `json:"status_code,omitempty"`
	Attempts     int      `json:"attempts"`

	// HTML is set when the final response declared a text/html body.
	HTML bool `json:"html"`

	// Err is the transport failure that ended the check, if any.
	Err error `json:"-"`
}

// Valid reports whether the link is usable; warnings do not change that.
func (r *Result) Valid() bool { return r.Verdict != Invalid }

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) setValid(msg string) {
	r.Verdict = Valid
	r.Message = msg
}

func (r *Result) setInvalid(msg string) {
	r.Verdict = Invalid
	r.Message = msg
}
