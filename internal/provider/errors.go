package provider

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

const maxErrorBody = 512

// Error is a non-2xx answer from an upstream provider.
type Error struct {
	Provider    string
	StatusCode  int
	Code        string
	Message     string
	RateLimited bool
	RetryAfter  time.Duration
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s api error (status %d, %s): %s", e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("%s api error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// ServerSide reports upstream faults that say something about provider
// health, as opposed to problems with the request or the credential's quota.
func (e *Error) ServerSide() bool {
	return e.StatusCode >= 500
}

// IsRateLimited reports whether err carries an upstream rate-limit signal.
func IsRateLimited(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.RateLimited
}

// rate-limit markers in error bodies. Order matters: the first path present
// becomes Error.Code unless a later one is a rate-limit marker.
var rateLimitMarkers = []struct {
	path    string
	markers []string
}{
	{"error.type", []string{"rate_limit_error"}},                        // anthropic
	{"error.code", []string{"rate_limit_exceeded", "insufficient_quota"}}, // openai
	{"error.status", []string{"RESOURCE_EXHAUSTED"}},                    // gemini
}

// NewHTTPError reads resp's body and classifies it. It does not close the body.
func NewHTTPError(providerName string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return ClassifyError(providerName, resp.StatusCode, resp.Header, body)
}

// ClassifyError builds an Error from a status, headers and raw body. HTTP 429
// or a known rate-limit marker in the body marks the error as rate limited.
func ClassifyError(providerName string, status int, header http.Header, body []byte) *Error {
	e := &Error{
		Provider:    providerName,
		StatusCode:  status,
		RateLimited: status == http.StatusTooManyRequests,
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		for _, rl := range rateLimitMarkers {
			v := parsed.Get(rl.path).String()
			if v == "" {
				continue
			}
			if e.Code == "" {
				e.Code = v
			}
			for _, m := range rl.markers {
				if v == m {
					e.RateLimited = true
					e.Code = v
				}
			}
		}
		e.Message = parsed.Get("error.message").String()
		if e.Message == "" {
			e.Message = parsed.Get("message").String()
		}
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		e.Message = truncate(e.Message, maxErrorBody)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}

	if header != nil {
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"), time.Now())
	}
	return e
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
