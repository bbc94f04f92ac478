package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/raine/vehicle-listing-bot/config"
)

var (
	telegramAPIURL = "https://api.telegram.org"
	geminiAPIURL   = "https://generativelanguage.googleapis.com"
)

// isInteractiveTerminal returns true if both stdin and stdout are TTYs.
// This is used to determine if we can run the interactive setup wizard.
func isInteractiveTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stdout.Fd()))
}

func newSetupClient() *resty.Client {
	return resty.New().SetTimeout(10 * time.Second)
}

// runSetupWizard collects the required configuration, stores it in the
// user's config directory and exports it to the current process.
// Returns true if the bot should continue starting.
func runSetupWizard() bool {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	fmt.Println()
	fmt.Println(titleStyle.Render("🚗 Vehicle Listing Bot - First-time Setup"))
	fmt.Println()

	client := newSetupClient()
	var botToken, geminiKey, openAIKey, location string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token").
				Description("Message @BotFather on Telegram → /newbot → copy token").
				Value(&botToken).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("token is required")
					}
					return validateTelegramToken(client, s)
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Gemini API Key").
				Description("Get yours at https://aistudio.google.com/apikey").
				Value(&geminiKey).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("API key is required")
					}
					return validateGeminiKey(client, s)
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("OpenAI API Key (optional)").
				Description("Used for voice note transcription. Leave empty to use Gemini").
				Value(&openAIKey),
			huh.NewInput().
				Title("Default ZIP code (optional)").
				Description("Listing location when a user has not set one with /location").
				Value(&location).
				Validate(validateOptionalZIP),
		),
	).WithTheme(huh.ThemeBase16())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			fmt.Println("\nSetup cancelled.")
			return false
		}
		fmt.Printf("\nError: %v\n", err)
		return false
	}

	values := setupValues(botToken, geminiKey, openAIKey, location)
	configPath, err := config.WriteEnvFile(values)
	if err != nil {
		fmt.Printf("\nError saving configuration: %v\n", err)
		waitOnWindows()
		return false
	}

	for k, v := range values {
		os.Setenv(k, v)
	}

	successStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("42")).
		Bold(true)

	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	fmt.Println()
	fmt.Println(successStyle.Render("✓ Configuration saved"))
	fmt.Println(pathStyle.Render("  " + configPath))
	fmt.Println()
	fmt.Println("Starting bot...")
	fmt.Println()

	return true
}

// setupValues returns the answers worth persisting. Optional answers left
// empty are omitted.
func setupValues(botToken, geminiKey, openAIKey, location string) map[string]string {
	values := map[string]string{
		"BOT_TOKEN":      strings.TrimSpace(botToken),
		"GEMINI_API_KEY": strings.TrimSpace(geminiKey),
	}
	if v := strings.TrimSpace(openAIKey); v != "" {
		values["OPENAI_API_KEY"] = v
	}
	if v := strings.TrimSpace(location); v != "" {
		values["LOCATION"] = v
	}
	return values
}

func validateOptionalZIP(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if len(s) != 5 {
		return errors.New("must be a 5-digit ZIP code")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return errors.New("must be a 5-digit ZIP code")
		}
	}
	return nil
}

// validateTelegramToken validates a Telegram bot token by calling the getMe API.
func validateTelegramToken(client *resty.Client, token string) error {
	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description,omitempty"`
	}

	resp, err := client.R().
		SetResult(&result).
		SetError(&result).
		Get(fmt.Sprintf("%s/bot%s/getMe", telegramAPIURL, token))
	if err != nil {
		return errors.New("connection failed - check your internet")
	}

	if !result.OK {
		if result.Description != "" {
			return errors.New(result.Description)
		}
		return fmt.Errorf("token rejected by Telegram (HTTP %d)", resp.StatusCode())
	}

	return nil
}

// validateGeminiKey validates a Gemini API key against the models list
// endpoint, which is lightweight.
func validateGeminiKey(client *resty.Client, key string) error {
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	resp, err := client.R().
		SetQueryParam("key", key).
		SetError(&apiErr).
		Get(geminiAPIURL + "/v1beta/models")
	if err != nil {
		return errors.New("connection failed - check your internet")
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		if apiErr.Error.Message != "" {
			return errors.New(apiErr.Error.Message)
		}
		return fmt.Errorf("API key rejected (HTTP %d)", resp.StatusCode())
	default:
		return fmt.Errorf("unexpected response (HTTP %d)", resp.StatusCode())
	}
}

// waitOnWindows pauses execution on Windows so users can see error messages
// before the console window closes.
func waitOnWindows() {
	if runtime.GOOS == "windows" {
		fmt.Println()
		fmt.Println("Press Enter to exit...")
		fmt.Scanln()
	}
}

// fatalWithWait logs a fatal error and waits on Windows before exiting.
func fatalWithWait(format string, args ...any) {
	log.Error().Msg(fmt.Sprintf(format, args...))
	waitOnWindows()
	os.Exit(1)
}
