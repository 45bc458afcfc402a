package auth

import (
	"time"

	"github.com/zooz/otpauth/internal/model"
)

// Outcome is the classification of a submitted code against the newest record
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeInvalid
	OutcomeExpired
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeExpired:
		return "expired"
	}
	return "unknown"
}

// Err maps the outcome to its sentinel error, nil for OutcomeOK.
func (o Outcome) Err() error {
	switch o {
	case OutcomeNotFound:
		return ErrOTPNotFound
	case OutcomeInvalid:
		return ErrOTPInvalid
	case OutcomeExpired:
		return ErrOTPExpired
	}
	return nil
}

// Validate checks existence, then exact code equality, then expiry.
// A consumed record counts as missing. A record is expired once now reaches
// ExpiresAt.
func Validate(rec *model.OtpRecord, submitted string, now time.Time) Outcome {
	if rec == nil || rec.VerifiedAt != nil {
		return OutcomeNotFound
	}
	if submitted != rec.Code {
		return OutcomeInvalid
	}
	if !now.Before(rec.ExpiresAt) {
		return OutcomeExpired
	}
	return OutcomeOK
}
