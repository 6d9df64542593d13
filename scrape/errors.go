package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/mizutanik/go-book-links/models"
)

// ErrNetwork indicates a transient network failure. Retryable.
type ErrNetwork struct {
	Err error
}

func (e ErrNetwork) Error() string {
	return fmt.Errorf("network: %w", e.Err).Error()
}

func (e ErrNetwork) Unwrap() error {
	return e.Err
}

// ErrTimeout indicates a request or batch deadline expired. Retryable within
// a site attempt; terminal when the batch deadline is the one that fired.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the site asked us to slow down (HTTP 429).
// Retryable after backoff.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrCaptcha indicates the site served an interactive challenge. Terminal:
// retrying only digs the hole deeper.
type ErrCaptcha struct {
	Site string
}

func (e ErrCaptcha) Error() string {
	return fmt.Sprintf("captcha challenge from %s", e.Site)
}

// ErrBotBlocked indicates an explicit bot rejection (403 or a block page).
// Terminal for the attempt.
type ErrBotBlocked struct {
	Site   string
	Status int
}

func (e ErrBotBlocked) Error() string {
	return fmt.Sprintf("bot blocked by %s (status %d)", e.Site, e.Status)
}

// ErrElementNotFound indicates a selector rule matched nothing. Triggers
// fallback to the next-priority rule for the same kind, never a plain retry.
type ErrElementNotFound struct {
	Kind     models.RuleKind
	Selector string
}

func (e ErrElementNotFound) Error() string {
	return fmt.Sprintf("no element for %s selector %q", e.Kind, e.Selector)
}

// ErrParse indicates a field was present but uninterpretable. The candidate
// is dropped; the site scrape continues.
type ErrParse struct {
	Field string
	Err   error
}

func (e ErrParse) Error() string {
	return fmt.Errorf("parse %s: %w", e.Field, e.Err).Error()
}

func (e ErrParse) Unwrap() error {
	return e.Err
}

// ErrConfiguration indicates a site has no usable rule set for a needed
// kind. Degrades to a not-found outcome; operators catch it via validation
// reports, not scrape-time crashes.
type ErrConfiguration struct {
	Site string
	Kind models.RuleKind
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("no active %s rules for %s", e.Kind, e.Site)
}

// retryable reports whether the error is worth another attempt after backoff.
func retryable(err error) bool {
	var network ErrNetwork
	var timeout ErrTimeout
	var limited ErrRateLimited
	return errors.As(err, &network) || errors.As(err, &timeout) || errors.As(err, &limited)
}

// terminal reports whether the error ends the site attempt immediately.
func terminal(err error) bool {
	var captcha ErrCaptcha
	var blocked ErrBotBlocked
	return errors.As(err, &captcha) || errors.As(err, &blocked)
}

// errorKindLabel maps an error to its stable metrics/result label.
func errorKindLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var network ErrNetwork
	if errors.As(err, &network) {
		return "network"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var limited ErrRateLimited
	if errors.As(err, &limited) {
		return "rate_limited"
	}
	var captcha ErrCaptcha
	if errors.As(err, &captcha) {
		return "captcha"
	}
	var blocked ErrBotBlocked
	if errors.As(err, &blocked) {
		return "bot_blocked"
	}
	var missing ErrElementNotFound
	if errors.As(err, &missing) {
		return "element_not_found"
	}
	var parse ErrParse
	if errors.As(err, &parse) {
		return "parse"
	}
	var config ErrConfiguration
	if errors.As(err, &config) {
		return "configuration"
	}
	return "other"
}

// classifyFetchError buckets a transport-level failure into the taxonomy.
func classifyFetchError(site string, err error, statusCode int) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrNetwork{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden, http.StatusServiceUnavailable:
			return ErrBotBlocked{Site: site, Status: statusCode}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
	}

	if err == nil {
		return nil
	}
	return ErrNetwork{Err: err}
}

// Block-page markers seen on the supported storefronts. Checked on
// successful responses too, since challenges ship with status 200.
var challengeMarkers = [][]byte{
	[]byte("captcha"),
	[]byte("CAPTCHA"),
	[]byte("g-recaptcha"),
	[]byte("cf-challenge"),
	[]byte("ロボットによる"),
	[]byte("自動アクセス"),
}

func detectChallenge(body []byte) bool {
	for _, marker := range challengeMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}
