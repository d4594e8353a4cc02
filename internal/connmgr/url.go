package connmgr

import (
	"fmt"
	"net/url"
)

// buildURL composes the connect URL per SPEC_FULL.md §6:
// {serverUrl}/v1/sync/{percent-encoded workspaceId}?token={t}&userId={u}&sync_mode={m}
func buildURL(serverURL, workspaceID, token, userID, syncMode string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("userId", userID)
	q.Set("sync_mode", syncMode)

	return fmt.Sprintf("%s/v1/sync/%s?%s", serverURL, url.PathEscape(workspaceID), q.Encode())
}

// redactedURL replaces the token query parameter with a sentinel so a
// connect URL is safe to place in a debug log line.
func redactedURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	q := u.Query()
	if q.Get("token") != "" {
		q.Set("token", "***")
	}
	u.RawQuery = q.Encode()
	return u.String()
}
