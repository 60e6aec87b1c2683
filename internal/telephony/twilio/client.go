// Package twilio implements the telephony gateway against the Twilio REST API.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callback_backend/internal/telephony"
	"callback_backend/platform/config"
	"callback_backend/platform/logger"
)

const (
	defaultAPIBase = "https://api.twilio.com/2010-04-01"

	// TwiML played on the business leg while the provider dials the visitor.
	holdMusicURL = "http://twimlets.com/holdmusic?Bucket=com.twilio.music.classical"

	requestTimeout = 10 * time.Second
)

// Client is a thin Twilio REST client. One HTTP attempt per operation,
// bounded by the client timeout.
type Client struct {
	accountSID  string
	authToken   string
	callTimeout time.Duration
	apiBase     string
	httpClient  *http.Client
	log         *logger.Logger
}

// NewClient creates a Twilio gateway client from configuration.
func NewClient(cfg config.TwilioConfig, log *logger.Logger) *Client {
	return &Client{
		accountSID:  cfg.GetTwilioAccountSID(),
		authToken:   cfg.GetTwilioAuthToken(),
		callTimeout: cfg.GetCallTimeout(),
		apiBase:     defaultAPIBase,
		httpClient:  &http.Client{Timeout: requestTimeout},
		log:         log,
	}
}

// Compile-time check that Client implements the gateway interface.
var _ telephony.Gateway = (*Client)(nil)

type apiResponse struct {
	SID     string `json:"sid"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PlaceCall dials the business number. Status events for the terminal call
// outcomes are delivered to statusCallbackURL.
func (c *Client) PlaceCall(ctx context.Context, to, from, statusCallbackURL string) (telephony.CallHandle, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Url", holdMusicURL)
	form.Set("StatusCallback", statusCallbackURL)
	for _, event := range []string{"initiated", "answered", "completed"} {
		form.Add("StatusCallbackEvent", event)
	}
	form.Set("Timeout", strconv.Itoa(int(c.callTimeout.Seconds())))

	resp, err := c.post(ctx, "Calls", form)
	if err != nil {
		return telephony.CallHandle{}, &telephony.GatewayError{Op: "place call", Err: err}
	}

	return telephony.CallHandle{SID: resp.SID}, nil
}

// SendSMS sends a text message via the Messages resource.
func (c *Client) SendSMS(ctx context.Context, to, from, body string) (telephony.SMSHandle, error) {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", from)
	form.Set("Body", body)

	resp, err := c.post(ctx, "Messages", form)
	if err != nil {
		return telephony.SMSHandle{}, &telephony.GatewayError{Op: "send sms", Err: err}
	}

	return telephony.SMSHandle{SID: resp.SID}, nil
}

func (c *Client) post(ctx context.Context, resource string, form url.Values) (*apiResponse, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/%s.json", c.apiBase, c.accountSID, resource)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("api status %d: %s (code %d)", httpResp.StatusCode, resp.Message, resp.Code)
	}

	return &resp, nil
}
