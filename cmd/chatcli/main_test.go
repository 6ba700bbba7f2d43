package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/PaulBabatuyi/marketChat/internal/data"
	"github.com/stretchr/testify/require"
)

func TestRun_RejectsBadUsage(t *testing.T) {
	t.Setenv("CHAT_EMAIL", "")
	t.Setenv("CHAT_PASSWORD", "")
	var out bytes.Buffer

	code, err := run([]string{}, &out)
	require.Error(t, err)
	require.Equal(t, exitConfig, code)

	code, err = run([]string{"--email", "a@b.c", "conversations"}, &out)
	require.Error(t, err)
	require.Equal(t, exitConfig, code)
}

func TestFormatMessage(t *testing.T) {
	p := int64(4)
	m := &data.Message{ID: 7, SenderID: 1, ReceiverID: 2, ProductID: &p, Content: "hi", MessageType: data.MessageTypeText, CreatedAt: time.Now()}

	require.Contains(t, formatMessage(1, m), "#7 you (product 4): hi")
	require.Contains(t, formatMessage(2, m), "#7 user 1 (product 4): hi")

	m.MessageType = data.MessageTypeImage
	require.Equal(t, "[image]", preview(*m))
	require.Equal(t, "-", formatProduct(nil))
}
