package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	twilio "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"salesbot/internal/config"
	"salesbot/internal/entities"
	"salesbot/internal/retry"
)

// ErrTemplateNotConfigured is returned when a template send is requested but
// no content SID is known.
var ErrTemplateNotConfigured = errors.New("twilio: template send requested but no content SID configured")

// Twilio error codes meaning the 24h customer service window has closed.
var windowExpiredCodes = map[int]bool{63016: true, 63051: true}

type messageCreator interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// TwilioClient sends WhatsApp messages through the Twilio Messaging API.
type TwilioClient struct {
	api         messageCreator
	validator   client.RequestValidator
	from        string
	contentSID  string
	useTemplate bool
	policy      retry.Policy
	logger      *log.Logger
}

type TwilioOption func(*TwilioClient)

// WithMessageCreator replaces the Twilio REST service.
func WithMessageCreator(api messageCreator) TwilioOption {
	return func(t *TwilioClient) { t.api = api }
}

// WithSendRetry overrides the send attempt budget and backoff sleep.
func WithSendRetry(attempts int, base time.Duration, sleep retry.SleepFunc) TwilioOption {
	return func(t *TwilioClient) {
		t.policy.Attempts = attempts
		t.policy.BaseDelay = base
		t.policy.Sleep = sleep
	}
}

func NewTwilioClient(cfg config.TwilioConfig, logger *log.Logger, opts ...TwilioOption) *TwilioClient {
	t := &TwilioClient{
		validator:   client.NewRequestValidator(cfg.AuthToken),
		from:        cfg.Number,
		contentSID:  cfg.ContentSID,
		useTemplate: cfg.UseTemplate,
		policy: retry.Policy{
			Attempts:  3,
			BaseDelay: time.Second,
			Retryable: isTransientTwilioError,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.api == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		})
		t.api = rest.Api
	}
	return t
}

// WhatsAppAddress ensures the whatsapp: channel prefix.
func WhatsAppAddress(n string) string {
	if strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + n
}

// Send delivers body to the given address and returns the message SID.
//
// A free-form send rejected because the conversation window expired is
// re-sent once as a template inside the same attempt when a content SID is
// available; without one the provider error is returned as is.
func (t *TwilioClient) Send(ctx context.Context, to, body string, opts entities.SendOptions) (string, error) {
	useTemplate := t.useTemplate
	if opts.UseTemplate != nil {
		useTemplate = *opts.UseTemplate
	}
	templateSID := opts.TemplateSID
	if templateSID == "" {
		templateSID = t.contentSID
	}

	from, dest := WhatsAppAddress(t.from), WhatsAppAddress(to)

	policy := t.policy
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		t.logger.Warn("twilio send failed, retrying", "to", dest, "attempt", attempt, "delay", delay, "err", err)
	}

	var sid string
	err := retry.Do(ctx, policy, func(_ context.Context, attempt int) error {
		msg, err := t.create(from, dest, body, useTemplate, templateSID, opts)
		if err != nil && !useTemplate && isWindowExpired(err) {
			if templateSID == "" {
				return retry.Permanent(err)
			}
			t.logger.Info("conversation window expired, resending as template", "to", dest, "attempt", attempt)
			useTemplate = true
			msg, err = t.create(from, dest, body, true, templateSID, opts)
		}
		if err != nil {
			if errors.Is(err, ErrTemplateNotConfigured) {
				return retry.Permanent(err)
			}
			t.logger.Error("twilio send error", "to", dest, "attempt", attempt, "code", twilioCode(err), "err", err)
			return err
		}
		if msg != nil && msg.Sid != nil {
			sid = *msg.Sid
		}
		t.logger.Info("message sent", "to", dest, "attempt", attempt, "sid", sid, "template", useTemplate)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("send whatsapp message to %s: %w", dest, err)
	}
	return sid, nil
}

func (t *TwilioClient) create(from, to, body string, useTemplate bool, templateSID string, opts entities.SendOptions) (*twilioapi.ApiV2010Message, error) {
	params := &twilioapi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)

	if useTemplate {
		if templateSID == "" {
			return nil, ErrTemplateNotConfigured
		}
		vars := opts.TemplateVars
		if vars == nil {
			vars = map[string]string{"1": body}
		}
		raw, err := json.Marshal(vars)
		if err != nil {
			return nil, retry.Permanent(fmt.Errorf("encode template variables: %w", err))
		}
		params.SetContentSid(templateSID)
		params.SetContentVariables(string(raw))
		return t.api.CreateMessage(params)
	}

	params.SetBody(body)
	if len(opts.MediaURLs) > 0 {
		params.SetMediaUrl(opts.MediaURLs)
	}
	return t.api.CreateMessage(params)
}

// ValidateSignature checks the X-Twilio-Signature header of a webhook call.
func (t *TwilioClient) ValidateSignature(url string, params map[string]string, signature string) bool {
	return t.validator.Validate(url, params, signature)
}

func isWindowExpired(err error) bool {
	var restErr *client.TwilioRestError
	return errors.As(err, &restErr) && windowExpiredCodes[restErr.Code]
}

// isTransientTwilioError retries transport failures, throttling and 5xx.
func isTransientTwilioError(err error) bool {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Status == 429 || restErr.Status >= 500
	}
	return !errors.Is(err, context.Canceled)
}

func twilioCode(err error) int {
	var restErr *client.TwilioRestError
	if errors.As(err, &restErr) {
		return restErr.Code
	}
	return 0
}
