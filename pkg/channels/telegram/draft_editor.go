package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"genesis/internal/streaming"
	"genesis/internal/toolloop"
)

// DraftEditor adapts a single chat/topic into streaming.DraftEditor by
// editing one Telegram message in place via EditMessageText, mirroring
// TelegramChannel.Send/sendPhoto for the initial send and file delivery.
type DraftEditor struct {
	bot       *tgbotapi.BotAPI
	chatID    int64
	threadID  int
	parseMode string // tgbotapi.ModeHTML or tgbotapi.ModeMarkdownV2
}

// NewDraftEditor builds a DraftEditor targeting chatID (and, for forum
// chats, threadID - pass 0 for the general topic).
func NewDraftEditor(bot *tgbotapi.BotAPI, chatID int64, threadID int, mode streaming.Mode) *DraftEditor {
	parseMode := tgbotapi.ModeHTML
	if mode == streaming.ModeMarkdown {
		parseMode = tgbotapi.ModeMarkdownV2
	}
	return &DraftEditor{bot: bot, chatID: chatID, threadID: threadID, parseMode: parseMode}
}

func (d *DraftEditor) OpenDraft(ctx context.Context) (string, error) {
	msg := tgbotapi.NewMessage(d.chatID, "…")
	msg.ParseMode = d.parseMode
	if d.threadID != 0 {
		msg.MessageThreadID = d.threadID
	}
	sent, err := d.bot.Send(msg)
	if err != nil {
		return "", fmt.Errorf("telegram open draft: %w", err)
	}
	return strconv.Itoa(sent.MessageID), nil
}

func (d *DraftEditor) EditDraft(ctx context.Context, draftID, text string) error {
	messageID, err := strconv.Atoi(draftID)
	if err != nil {
		return fmt.Errorf("invalid draft id %q: %w", draftID, err)
	}
	edit := tgbotapi.NewEditMessageText(d.chatID, messageID, text)
	edit.ParseMode = d.parseMode
	if _, err := d.bot.Send(edit); err != nil {
		return fmt.Errorf("telegram edit draft: %w", err)
	}
	return nil
}

func (d *DraftEditor) SendFile(ctx context.Context, file toolloop.DeliveredFile) error {
	doc := tgbotapi.NewDocument(d.chatID, tgbotapi.FileBytes{Name: file.Filename, Bytes: file.Data})
	if d.threadID != 0 {
		doc.MessageThreadID = d.threadID
	}
	if _, err := d.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram send file: %w", err)
	}
	return nil
}
