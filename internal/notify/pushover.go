package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/agusx1211/baton/internal/buildinfo"
)

const (
	pushoverAPIURL = "https://api.pushover.net/1/messages.json"

	// MaxTitleLen is the maximum length for a Pushover notification title.
	MaxTitleLen = 250

	// MaxMessageLen is the maximum length for a Pushover notification message.
	MaxMessageLen = 1024
)

// Priority levels for Pushover notifications.
const (
	PriorityLowest = -2
	PriorityLow    = -1
	PriorityNormal = 0
	PriorityHigh   = 1
)

// pushoverResponse is the JSON response from the Pushover API.
type pushoverResponse struct {
	Status  int      `json:"status"`
	Request string   `json:"request"`
	Errors  []string `json:"errors,omitempty"`
}

// Pushover sends alerts through the Pushover API.
type Pushover struct {
	UserKey  string
	AppToken string
	Priority int

	// Endpoint and Client default to the public API and http.DefaultClient.
	Endpoint string
	Client   *http.Client
}

// Configured returns true if Pushover credentials are set.
func (p *Pushover) Configured() bool {
	return p != nil && p.UserKey != "" && p.AppToken != ""
}

func (p *Pushover) Notify(ctx context.Context, title, message string) error {
	if !p.Configured() {
		return fmt.Errorf("%w: pushover credentials not set (notify.pushover in config)", ErrUnavailable)
	}

	if len(title) > MaxTitleLen {
		title = title[:MaxTitleLen]
	}
	if len(message) > MaxMessageLen {
		message = message[:MaxMessageLen]
	}

	form := url.Values{
		"token":    {p.AppToken},
		"user":     {p.UserKey},
		"title":    {title},
		"message":  {message},
		"priority": {fmt.Sprintf("%d", p.Priority)},
	}

	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = pushoverAPIURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building pushover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("sending pushover notification: %w", err)
	}
	defer resp.Body.Close()

	var result pushoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding pushover response: %w", err)
	}

	if result.Status != 1 {
		return fmt.Errorf("pushover API error: %s", strings.Join(result.Errors, "; "))
	}

	return nil
}
