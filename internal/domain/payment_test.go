package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseStarsPayload(t *testing.T) {
	tests := []struct {
		payload    string
		wantPlan   PlanKey
		wantPeriod Period
		wantErr    bool
	}{
		{"stars:pro:month", PlanPro, PeriodMonth, false},
		{"stars:lite:week", PlanLite, PeriodWeek, false},
		{StarsPayload(PlanPro, PeriodWeek), PlanPro, PeriodWeek, false},
		{"stars:free:month", "", PeriodNone, true},
		{"stars:pro:forever", "", PeriodNone, true},
		{"stars:pro:year", "", PeriodNone, true},
		{"crypto:pro:month:42", "", PeriodNone, true},
		{"stars:pro", "", PeriodNone, true},
		{"", "", PeriodNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			plan, period, err := ParseStarsPayload(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, EINVALID, ErrorCode(err))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantPlan, plan)
			assert.Equal(t, tt.wantPeriod, period)
		})
	}
}

func TestCryptoPayload(t *testing.T) {
	assert.Equal(t, "crypto:pro:week:12345", CryptoPayload(PlanPro, PeriodWeek, 12345))
}

func TestParseGateway(t *testing.T) {
	g, ok := ParseGateway("CryptoBot")
	assert.True(t, ok)
	assert.Equal(t, GatewayCryptoBot, g)
	assert.Equal(t, MethodCryptoBot, MethodFor(g))

	g, ok = ParseGateway("stripe")
	assert.True(t, ok)
	assert.Equal(t, MethodStripe, MethodFor(g))

	_, ok = ParseGateway("paypal")
	assert.False(t, ok)
}

func TestMessageType_IsCapturableMedia(t *testing.T) {
	for _, mt := range []MessageType{MessagePhoto, MessageVideo, MessageVideoNote, MessageVoice} {
		assert.True(t, mt.IsCapturableMedia(), mt)
	}
	for _, mt := range []MessageType{MessageText, MessageDocument, MessageSticker} {
		assert.False(t, mt.IsCapturableMedia(), mt)
		assert.True(t, mt.IsValid())
	}
	assert.False(t, MessageType("poll").IsValid())
}
