package protocol

import "strings"

// Ack is the single reply published for every command envelope.
//
// Error is null on success and one of the ErrCode* values on failure.
// Code is an informational status in upper case (DISPATCHED, SCHEDULED, ...).
type Ack struct {
	V       int            `json:"v"`
	ReqID   string         `json:"req_id"`
	OK      bool           `json:"ok"`
	TS      string         `json:"ts"`
	Error   *string        `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details"`
}

// Success builds an ok=true ack.
func Success(reqID, code string, details map[string]any) Ack {
	if details == nil {
		details = map[string]any{}
	}
	return Ack{
		V:       Version,
		ReqID:   reqID,
		OK:      true,
		TS:      Now(),
		Code:    code,
		Details: details,
	}
}

// Failure builds an ok=false ack with the given error code.
// A non-empty message is carried in details.message.
func Failure(reqID, errCode, message string) Ack {
	details := map[string]any{}
	if message != "" {
		details["message"] = message
	}
	code := errCode
	return Ack{
		V:       Version,
		ReqID:   reqID,
		OK:      false,
		TS:      Now(),
		Error:   &code,
		Code:    strings.ToUpper(errCode),
		Details: details,
	}
}

// ErrorCode returns the failure code, or "" for a successful ack.
func (a Ack) ErrorCode() string {
	if a.Error == nil {
		return ""
	}
	return *a.Error
}

// Result returns a short label for metrics: the error code, or "ok".
func (a Ack) Result() string {
	if a.OK {
		return "ok"
	}
	return a.ErrorCode()
}
