package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// FileDownloader implements filemanager.TelegramDownloader by wrapping the
// same bot.GetFile + direct HTTP fetch pattern TelegramChannel uses for
// inbound photos, generalized to any file id.
type FileDownloader struct {
	bot        *tgbotapi.BotAPI
	token      string
	httpClient *http.Client
}

// NewFileDownloader builds a FileDownloader bound to a live bot session.
func NewFileDownloader(bot *tgbotapi.BotAPI, token string, httpClient *http.Client) *FileDownloader {
	return &FileDownloader{bot: bot, token: token, httpClient: httpClient}
}

// Download fetches the full bytes of telegramFileID.
func (d *FileDownloader) Download(ctx context.Context, telegramFileID string) ([]byte, error) {
	fileInfo, err := d.bot.GetFile(tgbotapi.FileConfig{FileID: telegramFileID})
	if err != nil {
		return nil, fmt.Errorf("telegram: get file info for %s: %w", telegramFileID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileInfo.Link(d.token), nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: build download request: %w", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: download %s: %w", telegramFileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: download %s: status %d", telegramFileID, resp.StatusCode)
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: read response body for %s: %w", telegramFileID, err)
	}
	return content, nil
}
