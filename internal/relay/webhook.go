package relay

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voicedesk/internal/store"
	"voicedesk/pkg/logger"
)

// InboundForm captures the subset of Twilio voice webhook fields the
// relay cares about. Twilio posts application/x-www-form-urlencoded.
type InboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	CallStatus string
}

func ParseInboundForm(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	return InboundForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       strings.TrimSpace(r.PostFormValue("From")),
		To:         strings.TrimSpace(r.PostFormValue("To")),
		CallStatus: r.PostFormValue("CallStatus"),
	}, nil
}

// WebhookHandler answers Twilio's inbound-voice webhook: it resolves
// which merchant owns the dialed number and hands the call's audio to
// the media stream endpoint via TwiML.
//
// No business logic here; the conversation happens on the stream.
type WebhookHandler struct {
	Merchants store.MerchantRepository

	// StreamURL builds the public wss endpoint for one merchant's calls.
	StreamURL func(merchantID string) string
}

const rejectMessage = "Sorry, this number is not in service. Goodbye."

func (h WebhookHandler) HandleInboundVoice(c *gin.Context) {
	log := logger.FromGin(c)

	form, err := ParseInboundForm(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	merchantID, err := h.Merchants.ResolveByNumber(c.Request.Context(), form.To)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("call to unknown number", "to", form.To, "call_sid", form.CallSid)
		} else {
			log.Error("merchant resolution failed", "to", form.To, "err", err)
		}
		writeTwiML(c, mustRejectTwiML())
		return
	}

	log.Info("inbound call accepted",
		"merchant_id", merchantID, "call_sid", form.CallSid, "from", form.From)

	twiml, err := StreamTwiML(h.StreamURL(merchantID), form.From)
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	writeTwiML(c, twiml)
}

func writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

func mustRejectTwiML() string {
	// Static verbs cannot fail to encode.
	twiml, _ := RejectTwiML(rejectMessage)
	return twiml
}
