package apiframework

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// HandleAPIError turns a non-2xx API response into an error. Responses
// carrying the structured error envelope become an *APIError; anything else
// falls back to a generic error with a body excerpt.
func HandleAPIError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("API error with status %s (failed to read response body: %v)", resp.Status, err)
	}

	var envelope struct {
		Error struct {
			Message string  `json:"message"`
			Type    string  `json:"type"`
			Param   *string `json:"param"`
			Code    string  `json:"code"`
		} `json:"error"`
	}

	if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Error.Message != "" {
		param := ""
		if envelope.Error.Param != nil {
			param = *envelope.Error.Param
		}
		return &APIError{
			err:       errors.New(envelope.Error.Message),
			message:   envelope.Error.Message,
			param:     param,
			errorType: envelope.Error.Type,
			errorCode: envelope.Error.Code,
		}
	}

	bodyStr := string(body)
	if len(bodyStr) > 100 {
		bodyStr = bodyStr[:100] + "..."
	}
	return fmt.Errorf("API error %d: %s", resp.StatusCode, bodyStr)
}
