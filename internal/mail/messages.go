package mail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/khanghh/rms/model"
)

const lockTimeLayout = "2006-01-02 15:04"

func SendAccountLocked(sender MailSender, toEmail string, siteName string, username string, until time.Time, minutes int) error {
	var body strings.Builder
	fmt.Fprintf(&body, "您好 %s：\n\n", username)
	fmt.Fprintf(&body, "您的账号因连续多次登录失败已被锁定 %d 分钟，将于 %s 自动解除。\n", minutes, until.Format(lockTimeLayout))
	body.WriteString("如果这些登录尝试不是您本人操作，请尽快联系管理员并修改密码。\n\n")
	body.WriteString(siteName)
	return sender.Send(&Message{
		To:      []string{toEmail},
		Subject: fmt.Sprintf("[%s] 账号已被锁定", siteName),
		Body:    body.String(),
	})
}

// AccountLockNotifier mails the account owner when an account gets locked.
type AccountLockNotifier struct {
	sender   MailSender
	siteName string
}

func (n *AccountLockNotifier) NotifyAccountLocked(ctx context.Context, user *model.User, until time.Time, minutes int) error {
	email := user.EmailAddress()
	if email == "" {
		return nil
	}
	return SendAccountLocked(n.sender, email, n.siteName, user.Username, until, minutes)
}

func NewAccountLockNotifier(sender MailSender, siteName string) *AccountLockNotifier {
	return &AccountLockNotifier{
		sender:   sender,
		siteName: siteName,
	}
}
