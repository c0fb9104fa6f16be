package notifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramConfig 配置 Telegram Bot 推送
type TelegramConfig struct {
	Token string
	// ChatID 为数字 ID 或公开频道的 @username
	ChatID   string
	ThreadID int
	// APIURL 为空时使用官方地址
	APIURL string
	// Offline 跳过启动时的 getMe 校验
	Offline bool
}

// Telegram 通过 Bot API 的 sendMessage 推送 HTML 消息
type Telegram struct {
	bot  *tele.Bot
	chat tele.Recipient
	opts *tele.SendOptions
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	chat, err := parseChat(cfg.ChatID)
	if err != nil {
		return nil, err
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: cfg.Offline,
		Client:  newHTTPClient(15 * time.Second),
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:  b,
		chat: chat,
		opts: &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              cfg.ThreadID,
		},
	}, nil
}

// channelName 以 @username 作为接收方，sendMessage 的 chat_id 原样接受
type channelName string

func (c channelName) Recipient() string { return string(c) }

// parseChat 数字按 chat ID 处理，否则必须是 @username
func parseChat(raw string) (tele.Recipient, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &tele.Chat{ID: id}, nil
	}
	if !strings.HasPrefix(raw, "@") || len(raw) < 2 {
		return nil, fmt.Errorf("telegram chat id %q must be a number or @username", raw)
	}
	return channelName(raw), nil
}

func (t *Telegram) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, n.Text, t.opts)
	return err
}
