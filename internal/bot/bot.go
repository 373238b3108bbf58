package bot

import (
	"fmt"
	"html"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	appLog "github.com/tazhate/usagestats/internal/log"
	"github.com/tazhate/usagestats/internal/service"
)

// maxListed caps how many duplicate or malformed keys a report message
// shows; Telegram rejects messages over 4096 characters.
const maxListed = 10

// Bot posts ingestion reports to an operator chat.
type Bot struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

func New(token string, chatID int64) (*Bot, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, chatID, &http.Client{})
}

// NewWithEndpoint talks to a custom Bot API server.
func NewWithEndpoint(token, endpoint string, chatID int64, client *http.Client) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	appLog.Info("telegram bot authorized", "username", api.Self.UserName)

	return &Bot{api: api, chatID: chatID}, nil
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.api.Send(msg)
	return err
}

// NotifyReport sends the run report to the configured chat.
func (b *Bot) NotifyReport(r *service.Report) error {
	return b.SendMessage(b.chatID, FormatReport(r))
}

// FormatReport renders a run report as Telegram HTML.
func FormatReport(r *service.Report) string {
	icon := "✅"
	switch r.Status {
	case service.StatusPartial:
		icon = "⚠️"
	case service.StatusFailed:
		icon = "❌"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>Booking ingestion %s</b>\n", icon, html.EscapeString(r.Status))
	fmt.Fprintf(&b, "<code>%s</code>\n\n", html.EscapeString(r.RunID))
	fmt.Fprintf(&b, "Sources: %d\n", r.Sources)
	fmt.Fprintf(&b, "Fetched: %d\n", r.Fetched)
	fmt.Fprintf(&b, "Inserted: %d\n", r.Inserted)
	fmt.Fprintf(&b, "Duplicates: %d\n", len(r.Duplicates))
	fmt.Fprintf(&b, "Malformed: %d\n", len(r.Malformed))

	if len(r.FailedSources) > 0 {
		b.WriteString("\n<b>Failed sources:</b>\n")
		for _, s := range r.FailedSources {
			fmt.Fprintf(&b, "• %s\n", html.EscapeString(s))
		}
	}
	if len(r.Malformed) > 0 {
		b.WriteString("\n<b>Malformed:</b>\n")
		writeList(&b, r.Malformed)
	}
	if r.UnknownUsers > 0 || r.UnknownGroups > 0 {
		fmt.Fprintf(&b, "\n🔍 Unknown: %d users, %d groups. Edit the side files and re-run.\n", r.UnknownUsers, r.UnknownGroups)
	}
	return b.String()
}

func writeList(b *strings.Builder, items []string) {
	for i, s := range items {
		if i == maxListed {
			fmt.Fprintf(b, "… and %d more\n", len(items)-maxListed)
			return
		}
		fmt.Fprintf(b, "• <code>%s</code>\n", html.EscapeString(s))
	}
}
