package broker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Envelope is the uniform wire response for the connection protocol. Error
// holds either a pre-defined code message or an opaque fallback string;
// Retryable tells the client to re-poll rather than treat the response as
// terminal, serialized "0"/"1" for client compatibility.
type Envelope struct {
	Result    any    `json:"result"`
	Date      string `json:"date"`
	Error     string `json:"error,omitempty"`
	Retryable string `json:"retryable"`
}

func newEnvelope(result any, now time.Time) Envelope {
	if result == nil {
		result = ""
	}
	return Envelope{Result: result, Date: now.UTC().Format(time.RFC3339), Retryable: "0"}
}

// ResultEnvelope wraps a successful result.
func ResultEnvelope(result any, now time.Time) Envelope {
	return newEnvelope(result, now)
}

// CodeEnvelope wraps a known error code, appending the numeric code so
// clients can key messages off it.
func CodeEnvelope(code ErrorCode, retryable bool, now time.Time) Envelope {
	env := newEnvelope(nil, now)
	env.Error = fmt.Sprintf("%s (code %04X)", code.Message(), int(code))
	if retryable {
		env.Retryable = "1"
	}
	return env
}

// MessageEnvelope wraps an opaque error string. Used as the last-resort
// fallback for unexpected internal errors; callers must sanitize the message
// before passing it here.
func MessageEnvelope(message string, now time.Time) Envelope {
	env := newEnvelope(nil, now)
	env.Error = message
	return env
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
