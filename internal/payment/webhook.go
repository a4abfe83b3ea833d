package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/storefront-checkout/internal/apperr"
)

const (
	EventSucceeded = "payment_intent.succeeded"
	EventCanceled  = "payment_intent.canceled"
	EventFailed    = "payment_intent.payment_failed"
)

// Event is a settlement notification from the gateway. Only the fields the
// reconciler reads are decoded.
type Event struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object EventObject `json:"object"`
	} `json:"data"`
}

type EventObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

func (e Event) OrderID() string { return e.Data.Object.Metadata["orderId"] }
func (e Event) AppID() string   { return e.Data.Object.Metadata["appId"] }

func ParseEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, apperr.Invalid("malformed event: %v", err)
	}
	if e.ID == "" || e.Type == "" {
		return Event{}, apperr.Invalid("event without id or type")
	}
	return e, nil
}

// VerifySignature checks a header of the form t=<unix>,v1=<hex>[,v1=<hex>...]
// where each v1 is HMAC-SHA256(secret, "<t>.<payload>"). A zero tolerance
// disables the timestamp check.
func VerifySignature(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: no webhook secret configured", apperr.ErrInvalidSignature)
	}
	var ts string
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", apperr.ErrInvalidSignature)
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", apperr.ErrInvalidSignature)
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", apperr.ErrInvalidSignature)
		}
	}

	expected := computeSignature(payload, ts, secret)
	for _, s := range sigs {
		got, err := hex.DecodeString(s)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: no matching signature", apperr.ErrInvalidSignature)
}

// Sign produces a header VerifySignature accepts. Used by tests and local tooling.
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeSignature(payload, ts, secret))
}

func computeSignature(payload []byte, ts, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}
