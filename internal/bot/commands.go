package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// Command defines a bot command with its handler key and Telegram menu description.
type Command struct {
	Name        string // Command name without slash (e.g., "start")
	Description string // Description shown in Telegram command menu
}

// botCommands defines all available bot commands.
// This is the single source of truth for command definitions.
var botCommands = []Command{
	{Name: "start", Description: "Help"},
	{Name: "new", Description: "Start a new listing"},
	{Name: "photos", Description: "Show and select photos"},
	{Name: "select", Description: "Toggle a photo for analysis"},
	{Name: "vin", Description: "Mark the photo showing the VIN"},
	{Name: "move", Description: "Reorder photos"},
	{Name: "remove", Description: "Remove a photo"},
	{Name: "set", Description: "Edit a field"},
	{Name: "analyze", Description: "Analyze the photos"},
	{Name: "price", Description: "Set the asking price"},
	{Name: "tier", Description: "Use a suggested price"},
	{Name: "conflicts", Description: "Review conflicting values"},
	{Name: "submit", Description: "Submit the listing"},
	{Name: "cancel", Description: "Cancel dictation or discard the listing"},
	{Name: "location", Description: "Show or set your ZIP code"},
	{Name: "version", Description: "Show version information"},
}

// RegisterCommands sets the bot's command menu in Telegram.
// This should be called once at startup.
func RegisterCommands(tg BotAPI) {
	commands := make([]tgbotapi.BotCommand, len(botCommands))
	for i, cmd := range botCommands {
		commands[i] = tgbotapi.BotCommand{
			Command:     cmd.Name,
			Description: cmd.Description,
		}
	}

	config := tgbotapi.NewSetMyCommands(commands...)
	if _, err := tg.Request(config); err != nil {
		log.Error().Err(err).Msg("failed to set bot commands")
	} else {
		log.Info().Int("count", len(commands)).Msg("registered bot commands")
	}
}
