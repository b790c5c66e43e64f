package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/ECHOITWEB/teampulse-sub005/internal/gateway"
)

// StatusClientClosedRequest is nginx's code for a caller that went away.
const StatusClientClosedRequest = 499

func statusFor(kind gateway.Kind) int {
	switch kind {
	case gateway.KindInvalidRequest:
		return http.StatusBadRequest
	case gateway.KindCapacityExhausted:
		return http.StatusServiceUnavailable
	case gateway.KindProviderError:
		return http.StatusBadGateway
	case gateway.KindTimeout:
		return http.StatusGatewayTimeout
	case gateway.KindCancelled:
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := gateway.KindOf(err)
	body := map[string]interface{}{
		"error": err.Error(),
		"kind":  kind,
	}

	var ge *gateway.Error
	if errors.As(err, &ge) {
		if ge.Provider != "" {
			body["provider"] = ge.Provider
		}
		body["attempts"] = ge.Attempts
		if kind == gateway.KindCapacityExhausted && ge.RetryAfter > 0 {
			secs := int(math.Ceil(ge.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			body["retry_after_seconds"] = secs
		}
	}
	if kind == gateway.KindInternal {
		body["error"] = "internal error"
	}

	writeJSON(w, statusFor(kind), body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
