package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type providerAPIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type providerErrorEnvelope struct {
	Error *providerAPIError `json:"error,omitempty"`
}

func newDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

func decodeProviderError(body []byte) *providerAPIError {
	if len(body) == 0 {
		return nil
	}

	var envelope providerErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	if envelope.Error == nil {
		return nil
	}

	envelope.Error.Message = strings.TrimSpace(envelope.Error.Message)
	return envelope.Error
}

func buildProviderAPIError(statusCode int, body []byte) error {
	if apiErr := decodeProviderError(body); apiErr != nil {
		if apiErr.Code != "" && apiErr.Message != "" {
			return fmt.Errorf("completion api error (%d, %s): %s", statusCode, apiErr.Code, apiErr.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("completion api error (%d): %s", statusCode, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("completion api error (%d, %s)", statusCode, apiErr.Code)
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return fmt.Errorf("completion api error (%d): %s", statusCode, snippet)
}
