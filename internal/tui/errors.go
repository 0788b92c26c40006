package tui

import (
	"errors"
	"net/http"
	"strings"

	"github.com/basket/taskchat/internal/client"
)

// humanError turns an API or transport error into a one-line message.
// "client: POST /chat: dial tcp: connection refused" → "Connection refused"
func humanError(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusUnauthorized:
			return "Your session has expired. Restart the chat to sign in again."
		case apiErr.Message != "":
			return apiErr.Message
		}
	}
	msg := err.Error()
	if idx := strings.LastIndex(msg, ": "); idx != -1 && idx+2 < len(msg) {
		inner := msg[idx+2:]
		return strings.ToUpper(inner[:1]) + inner[1:]
	}
	return msg
}
