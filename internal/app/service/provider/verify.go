package provider

import (
	"strconv"
	"time"
)

type VerifyReason string

const (
	VerifyReasonOK                  VerifyReason = ""
	VerifyReasonMissingSignature    VerifyReason = "missing_signature"
	VerifyReasonSecretNotConfigured VerifyReason = "secret_not_configured"
	VerifyReasonMalformedSignature  VerifyReason = "malformed_signature"
	VerifyReasonInvalidSignature    VerifyReason = "invalid_signature"
	VerifyReasonTimestampTolerance  VerifyReason = "timestamp_out_of_tolerance"
	VerifyReasonBodyUnreadable      VerifyReason = "body_unreadable"
)

type VerifyResult struct {
	Verified bool         `json:"verified"`
	Reason   VerifyReason `json:"reason,omitempty"`
}

func verified() VerifyResult { return VerifyResult{Verified: true} }

func rejected(reason VerifyReason) VerifyResult { return VerifyResult{Reason: reason} }

// checkTimestamp parses a unix seconds string and reports whether it lies within
// tolerance of now. A zero tolerance only validates the format.
func checkTimestamp(raw string, now time.Time, tolerance time.Duration) (time.Time, VerifyReason) {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, VerifyReasonMalformedSignature
	}
	ts := time.Unix(sec, 0)
	if tolerance > 0 {
		d := now.Sub(ts)
		if d < 0 {
			d = -d
		}
		if d > tolerance {
			return ts, VerifyReasonTimestampTolerance
		}
	}
	return ts, VerifyReasonOK
}
