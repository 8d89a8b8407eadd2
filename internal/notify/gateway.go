package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// ErrUnconfigured is returned by gateways without credentials.
var ErrUnconfigured = errors.New("sms gateway not configured")

// Gateway delivers one text message and returns the provider's delivery id.
type Gateway interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// TwilioGateway sends SMS through the Twilio Messages REST endpoint.
type TwilioGateway struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
}

func NewTwilioGateway(baseURL, accountSID, authToken, from string) *TwilioGateway {
	return &TwilioGateway{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		AccountSID: accountSID,
		AuthToken:  authToken,
		From:       CleanNumber(from),
	}
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (g *TwilioGateway) Send(ctx context.Context, to, body string) (string, error) {
	if g == nil || g.AccountSID == "" || g.AuthToken == "" || g.From == "" {
		return "", ErrUnconfigured
	}

	args := fiber.AcquireArgs()
	defer fiber.ReleaseArgs(args)
	args.Set("To", to)
	args.Set("From", g.From)
	args.Set("Body", body)

	agent := fiber.Post(fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", g.BaseURL, g.AccountSID)).
		BasicAuth(g.AccountSID, g.AuthToken).
		Form(args)
	if deadline, ok := ctx.Deadline(); ok {
		agent.Timeout(time.Until(deadline))
	}

	code, respBody, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}

	var msg twilioMessage
	_ = json.Unmarshal(respBody, &msg)
	if code >= 300 {
		if msg.Message != "" {
			return "", fmt.Errorf("twilio status %d: %s", code, msg.Message)
		}
		return "", fmt.Errorf("twilio status %d", code)
	}
	if msg.SID == "" {
		return "", errors.New("twilio response missing sid")
	}
	return msg.SID, nil
}

// CleanNumber strips whitespace, separators and invisible direction marks that
// phones paste into contact numbers.
func CleanNumber(num string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '+':
			return r
		default:
			return -1
		}
	}, num)
}
