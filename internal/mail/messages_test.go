package mail

import (
	"context"
	"testing"
	"time"

	"github.com/khanghh/rms/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	sent []*Message
}

func (s *recordingSender) Send(message *Message) error {
	s.sent = append(s.sent, message)
	return nil
}

func TestAccountLockNotifier(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewAccountLockNotifier(sender, "科研管理系统")
	until := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)

	email := "alice@example.edu"
	err := notifier.NotifyAccountLocked(context.Background(), &model.User{Username: "alice", Email: &email}, until, 30)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, []string{"alice@example.edu"}, msg.To)
	assert.Equal(t, "[科研管理系统] 账号已被锁定", msg.Subject)
	assert.Contains(t, msg.Body, "锁定 30 分钟")
	assert.Contains(t, msg.Body, "2025-03-01 10:30")
	assert.False(t, msg.IsHTML)
}

func TestAccountLockNotifier_NoEmail(t *testing.T) {
	sender := &recordingSender{}
	notifier := NewAccountLockNotifier(sender, "科研管理系统")

	err := notifier.NotifyAccountLocked(context.Background(), &model.User{Username: "bob"}, time.Now(), 30)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}
