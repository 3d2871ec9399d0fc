package notifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/lppm-portal/kkn-api/internal/models"
)

type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
}

func NewDiscordNotifier(session *discordgo.Session, channelID string) *DiscordNotifier {
	return &DiscordNotifier{
		session:   session,
		channelID: channelID,
	}
}

func (n *DiscordNotifier) NotifyRegistration(ctx context.Context, event RegistrationEvent) error {
	if n.session == nil {
		return fmt.Errorf("discord session is nil")
	}
	if n.channelID == "" {
		return fmt.Errorf("discord channel ID is empty")
	}

	_, err := n.session.ChannelMessageSend(n.channelID, FormatDiscordMessage(event), discordgo.WithContext(ctx))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to send discord message", slog.String("error", err.Error()))
		return err
	}

	return nil
}

func FormatDiscordMessage(event RegistrationEvent) string {
	var title string
	switch event.Action {
	case models.ActionApproved:
		title = "✅ **KKN Registration Approved**"
	case models.ActionRejected:
		title = "⛔ **KKN Registration Rejected**"
	case models.ActionNeedsRevision:
		title = "✏️ **KKN Registration Needs Revision**"
	case models.ActionDocumentUploaded:
		title = "📎 **KKN Documents Re-uploaded**"
	default:
		title = "💬 **KKN Registration Note**"
	}

	message := fmt.Sprintf("%s\n**Registration:** #%d (%s)\n**Student:** %s\n**Status:** %s → %s",
		title,
		event.RegistrationID,
		event.FiscalYear,
		event.StudentName,
		event.OldStatus,
		event.NewStatus,
	)
	if len(event.Documents) > 0 {
		message += fmt.Sprintf("\n**Documents:** %v", event.Documents)
	}
	if event.Note != "" {
		message += fmt.Sprintf("\n**Note:** %s", event.Note)
	}
	return message
}
