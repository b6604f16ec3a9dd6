package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrNoRecipients is returned when Send is called without addresses
	ErrNoRecipients = errors.New("no recipients")

	// ErrRelayRejected is returned when the relay answers with a non-2xx status
	ErrRelayRejected = errors.New("mail relay rejected message")
)

// Dispatcher delivers templated email
type Dispatcher interface {
	Send(ctx context.Context, templateID, from string, to []string, data map[string]any) error
}

// HTTPRelay posts rendered messages as JSON to a mail relay endpoint
type HTTPRelay struct {
	renderer   *Renderer
	httpClient *http.Client
	url        string
	token      string
	timeout    time.Duration
}

// NewHTTPRelay creates a relay dispatcher with the specified timeout
func NewHTTPRelay(renderer *Renderer, url, token string, timeoutMS int) *HTTPRelay {
	return &HTTPRelay{
		renderer: renderer,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		url:     url,
		token:   token,
		timeout: time.Duration(timeoutMS) * time.Millisecond,
	}
}

// Send renders the template and posts it to the relay
func (c *HTTPRelay) Send(ctx context.Context, templateID, from string, to []string, data map[string]any) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}

	msg, err := c.renderer.Render(templateID, from, to, data)
	if err != nil {
		return err
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal mail payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
			log.Warn().
				Err(err).
				Dur("timeout_ms", c.timeout).
				Str("template", templateID).
				Msg("Mail relay timed out")
		}
		return fmt.Errorf("failed to post to mail relay: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Str("template", templateID).
			Msg("Mail relay returned error status")
		return fmt.Errorf("%w: status %d", ErrRelayRejected, resp.StatusCode)
	}

	log.Info().
		Str("template", templateID).
		Int("recipients", len(to)).
		Msg("Email handed to relay")
	return nil
}

// LogDispatcher writes rendered messages to the log instead of sending them
type LogDispatcher struct {
	renderer *Renderer
}

// NewLogDispatcher creates a dispatcher for development
func NewLogDispatcher(renderer *Renderer) *LogDispatcher {
	return &LogDispatcher{renderer: renderer}
}

// Send renders the template and logs it
func (d *LogDispatcher) Send(_ context.Context, templateID, from string, to []string, data map[string]any) error {
	if len(to) == 0 {
		return ErrNoRecipients
	}
	msg, err := d.renderer.Render(templateID, from, to, data)
	if err != nil {
		return err
	}
	log.Info().
		Str("from", msg.From).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("text", msg.Text).
		Msg("Email (not sent, no relay configured)")
	return nil
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
