package adminapi

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// responseEnvelope covers both server conventions:
// {code, message, data, timestamp} and {success, message, data}.
type responseEnvelope struct {
	Code    *int            `json:"code"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// decodeResponse turns a 2xx body into out, or a *BusinessError when the
// envelope reports failure. Bodies without an envelope decode directly.
func decodeResponse(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if trimmed[0] != '{' {
		return decodeData(trimmed, out)
	}

	var env responseEnvelope
	if err := sonic.Unmarshal(trimmed, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	switch {
	case env.Code != nil && *env.Code != 0:
		return &BusinessError{Code: *env.Code, Message: env.Message}
	case env.Success != nil && !*env.Success:
		return &BusinessError{Message: env.Message}
	case env.Code == nil && env.Success == nil:
		return decodeData(trimmed, out)
	}

	return decodeData(env.Data, out)
}

func decodeData(data []byte, out any) error {
	if out == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

// errorDetails pulls the message and field errors out of an error body
func errorDetails(body []byte) (string, map[string]string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", nil
	}

	var env struct {
		Message string          `json:"message"`
		Error   string          `json:"error"`
		Errors  json.RawMessage `json:"errors"`
	}
	if err := sonic.Unmarshal(trimmed, &env); err != nil {
		return "", nil
	}
	msg := env.Message
	if msg == "" {
		msg = env.Error
	}

	var fields map[string]string
	if len(env.Errors) > 0 {
		if err := sonic.Unmarshal(env.Errors, &fields); err != nil {
			fields = nil
		}
	}
	return msg, fields
}
