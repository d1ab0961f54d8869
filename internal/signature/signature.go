package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "webhook-signature"
	HeaderID        = "webhook-id"
	HeaderTimestamp = "webhook-timestamp"

	prefix = "v1,"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrMissingSignature        = errors.New("missing signature header")
	ErrBadSignaturePrefix      = errors.New("signature header must start with v1,")
	ErrMissingTimestamp        = errors.New("missing timestamp header")
	ErrInvalidTimestamp        = errors.New("timestamp header is not an integer")
	ErrTimestampOutOfTolerance = errors.New("timestamp outside tolerance window")
	ErrSignatureMismatch       = errors.New("signature mismatch")
)

// Mode selects how a missing timestamp header is treated.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

// Sign returns the base64 HMAC-SHA256 of msgID.timestamp.payload, without the
// v1, prefix.
func Sign(payload []byte, secret, msgID, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msgID))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Header formats a signature the way it arrives on the wire.
func Header(payload []byte, secret, msgID, timestamp string) string {
	return prefix + Sign(payload, secret, msgID, timestamp)
}

// Verify reports whether signatureHeader is a valid v1 signature of payload.
// It applies no timestamp policy.
func Verify(payload []byte, signatureHeader, secret, msgID, timestamp string) bool {
	return verify(payload, signatureHeader, secret, msgID, timestamp) == nil
}

func verify(payload []byte, signatureHeader, secret, msgID, timestamp string) error {
	if signatureHeader == "" {
		return ErrMissingSignature
	}
	if !strings.HasPrefix(signatureHeader, prefix) {
		return ErrBadSignaturePrefix
	}
	got := signatureHeader[len(prefix):]
	want := Sign(payload, secret, msgID, timestamp)
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// Headers are the verification headers of one request.
type Headers struct {
	Signature string
	MessageID string
	Timestamp string
}

// Result describes a successful verification.
type Result struct {
	// Timestamp is the value that was signed, possibly substituted.
	Timestamp string
	// Substituted is set when lenient mode filled in a missing timestamp.
	Substituted bool
}

// Verifier applies the timestamp policy on top of Verify.
type Verifier struct {
	Secret    string
	Mode      Mode
	Tolerance time.Duration
	Now       func() time.Time
}

func NewVerifier(secret string, mode Mode, tolerance time.Duration) *Verifier {
	return &Verifier{Secret: secret, Mode: mode, Tolerance: tolerance, Now: time.Now}
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

func (v *Verifier) tolerance() time.Duration {
	if v.Tolerance > 0 {
		return v.Tolerance
	}
	return DefaultTolerance
}

func (v *Verifier) VerifyRequest(payload []byte, h Headers) (Result, error) {
	if h.Signature == "" {
		return Result{}, ErrMissingSignature
	}
	if !strings.HasPrefix(h.Signature, prefix) {
		return Result{}, ErrBadSignaturePrefix
	}

	res := Result{Timestamp: h.Timestamp}
	if h.Timestamp == "" {
		if v.Mode != ModeLenient {
			return Result{}, ErrMissingTimestamp
		}
		res.Timestamp = strconv.FormatInt(v.now().Unix(), 10)
		res.Substituted = true
	} else {
		sec, err := strconv.ParseInt(h.Timestamp, 10, 64)
		if err != nil {
			return Result{}, ErrInvalidTimestamp
		}
		if v.Mode != ModeLenient {
			skew := v.now().Sub(time.Unix(sec, 0))
			if skew < 0 {
				skew = -skew
			}
			if skew > v.tolerance() {
				return Result{}, ErrTimestampOutOfTolerance
			}
		}
	}

	if err := verify(payload, h.Signature, v.Secret, h.MessageID, res.Timestamp); err != nil {
		return Result{}, err
	}
	return res, nil
}
