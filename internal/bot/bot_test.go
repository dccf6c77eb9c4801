package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/liao/mall-concierge/internal/chat"
)

func TestThreadID(t *testing.T) {
	assert.Equal(t, "qq:123456", ThreadID(123456))
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "no conversation yet", FormatHistory(nil, 10))

	msgs := []chat.Message{
		chat.HumanMessage("where is uniqlo?"),
		chat.AIMessage(`{"textResponse": "Uniqlo is on G1.", "shops": ["Uniqlo"]}`),
		chat.HumanMessage("thanks"),
		chat.AIMessage("plain answer"),
	}
	assert.Equal(t,
		"you: where is uniqlo?\nsam: Uniqlo is on G1.\nyou: thanks\nsam: plain answer",
		FormatHistory(msgs, 10))

	assert.Equal(t,
		"(showing last 2 of 4 messages)\nyou: thanks\nsam: plain answer",
		FormatHistory(msgs, 2))
}
