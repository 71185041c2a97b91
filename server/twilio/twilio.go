package twilio

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/havenapp/haven/server/logger"
	"github.com/havenapp/haven/shared"
	"github.com/havenapp/haven/utils"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

var logg = logger.NewLogger()

type ClientWrapper struct {
	client   *twilio.RestClient
	config   shared.TwilioConfig
	testMode bool
}

// NewClient wraps the twilio REST client. With testMode set, sends are
// logged & acknowledged without hitting the network.
func NewClient(config shared.TwilioConfig, testMode bool) *ClientWrapper {
	client := twilio.NewRestClientWithParams(twilio.RestClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})

	return &ClientWrapper{
		client:   client,
		config:   config,
		testMode: testMode,
	}
}

// SendSMS delivers a single text message & returns the provider message sid.
func (cw *ClientWrapper) SendSMS(to, body string) (string, error) {
	if !utils.IsValidE164(to) {
		return "", fmt.Errorf("SendSMS: %v is not a valid E.164 phone number", to)
	}

	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("SendSMS: message body cannot be empty")
	}

	if cw.testMode {
		logg.Infof("[test mode] sms to %v:\n%v", to, body)
		return fmt.Sprintf("SM-test-%v", uuid.NewString()), nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	params.SetTo(to)
	params.SetBody(body)

	resp, err := cw.client.ApiV2010.CreateMessage(params)
	if err != nil {
		return "", err
	}

	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		return "", fmt.Errorf("SendSMS: %v", *resp.ErrorMessage)
	}

	messageSid := ""
	if resp.Sid != nil {
		messageSid = *resp.Sid
	}

	return messageSid, nil
}
