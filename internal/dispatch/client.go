package dispatch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/softmech/journeyprobe/internal/domain/scenario"
)

type ClientConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	VerifyTLS bool          `mapstructure:"verify_tls"`
}

// Stimulus is a fully resolved outbound action: button indirection has
// already been replaced with a concrete identifier.
type Stimulus struct {
	Kind     scenario.StimulusKind
	Text     string
	ButtonID string
}

// Client talks to the remote platform's messaging endpoint.
type Client struct {
	c   *http.Client
	cfg ClientConfig
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.VerifyTLS,
			MinVersion:         tls.VersionTLS12,
		},
	}
	return &Client{
		c:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		cfg: cfg,
	}
}

type outboundMessage struct {
	To    string            `json:"to"`
	Type  string            `json:"type"`
	Text  *outboundText     `json:"text,omitempty"`
	Reply *outboundReply    `json:"reply,omitempty"`
	Meta  map[string]string `json:"meta,omitempty"`
}

type outboundText struct {
	Body string `json:"body"`
}

type outboundReply struct {
	ID string `json:"id"`
}

// SendMessage performs one delivery attempt and classifies the result.
// Retrying is the dispatcher's job, not the client's.
func (cl *Client) SendMessage(ctx context.Context, recipient string, st Stimulus) (string, error) {
	msg := outboundMessage{To: recipient}
	switch st.Kind {
	case scenario.StimulusText:
		msg.Type = "text"
		msg.Text = &outboundText{Body: st.Text}
	case scenario.StimulusButton:
		msg.Type = "interactive_reply"
		msg.Reply = &outboundReply{ID: st.ButtonID}
	default:
		return "", &Error{Kind: FailureRejected, Err: fmt.Errorf("unknown stimulus kind %q", st.Kind)}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", &Error{Kind: FailureRejected, Err: fmt.Errorf("encode message: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Kind: FailureRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if cl.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cl.cfg.Token)
	}
	if cl.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cl.cfg.UserAgent)
	}

	resp, err := cl.c.Do(req)
	if err != nil {
		return "", &Error{Kind: FailureTransient, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return gjson.GetBytes(respBody, "message_id").String(), nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", &Error{Kind: FailureTransient, Status: resp.StatusCode, Err: fmt.Errorf("platform replied %s", resp.Status)}
	default:
		return "", &Error{Kind: FailureRejected, Status: resp.StatusCode, Err: fmt.Errorf("platform replied %s", resp.Status)}
	}
}
