package sos

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/havenapp/haven/server/models"
)

// Emergency lines included in every alert text.
const (
	POLICE_LINE      = "112"
	GBV_HOTLINE_LINE = "3512"
)

// buildAlertMessage formats the SMS body sent to one emergency contact.
func buildAlertMessage(contactName, senderName string, alert *models.SOSAlert) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Hi %v,\n", contactName)
	fmt.Fprintf(&b,
		"you're getting this message because you're %v's emergency contact. "+
			"%v has triggered an SOS and needs your help.\n",
		senderName, senderName)

	if alert.LocationAddress != "" {
		fmt.Fprintf(&b, "Last known location: %v\n", alert.LocationAddress)
		fmt.Fprintf(&b, "Map: https://maps.google.com/?q=%v\n", url.QueryEscape(alert.LocationAddress))
	}

	if alert.CustomNote != "" {
		fmt.Fprintf(&b, "Their message: %v\n", alert.CustomNote)
	}

	if callbackPhone, ok := alert.MetadataMap()["callback_phone"].(string); ok && callbackPhone != "" {
		fmt.Fprintf(&b, "You can reach them on %v\n", callbackPhone)
	}

	fmt.Fprintf(&b, "If you can't reach them, call the police (%v) or the GBV hotline (%v).\n",
		POLICE_LINE, GBV_HOTLINE_LINE)
	fmt.Fprintf(&b, "Sent %v", time.Now().Format("Mon Jan 2 15:04 MST"))

	return b.String()
}
