package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unclebandit/voicecast-backend/internal/config"
	appErrors "github.com/unclebandit/voicecast-backend/internal/errors"
)

// TwilioDialer places calls through the Twilio REST API.
type TwilioDialer struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string // overridable for tests
	Client     *http.Client
}

func NewTwilioDialer(cfg config.ProviderConfig) *TwilioDialer {
	return &TwilioDialer{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		FromNumber: cfg.FromNumber,
		BaseURL:    "https://api.twilio.com",
		Client:     &http.Client{Timeout: 15 * time.Second},
	}
}

type twilioCallResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (d *TwilioDialer) Place(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", d.FromNumber)
	form.Set("Url", req.ScriptURL)
	form.Set("Method", "GET")
	form.Set("StatusCallback", req.StatusCallbackURL)
	form.Set("StatusCallbackMethod", "POST")
	form.Set("Timeout", strconv.Itoa(answerTimeoutSeconds))
	form.Set("MachineDetection", "Enable")
	form.Set("MachineDetectionTimeout", strconv.Itoa(machineDetectionSeconds))
	for _, event := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", event)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", d.BaseURL, d.AccountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(d.AccountSID, d.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return nil, appErrors.NewProviderUnreachable(err)
	}
	defer resp.Body.Close()

	var body twilioCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, appErrors.NewProviderUnreachable(fmt.Errorf("decoding response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, appErrors.NewProviderRejection(strconv.Itoa(body.Code), body.Message)
	}

	return &PlaceResult{ProviderSID: body.SID, ProviderStatus: body.Status}, nil
}

func (d *TwilioDialer) Terminate(ctx context.Context, providerSID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", d.BaseURL, d.AccountSID, providerSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	httpReq.SetBasicAuth(d.AccountSID, d.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.Client.Do(httpReq)
	if err != nil {
		return appErrors.NewProviderUnreachable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body twilioCallResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return appErrors.NewProviderRejection(strconv.Itoa(body.Code), body.Message)
	}
	return nil
}

var _ Dialer = (*TwilioDialer)(nil)
