package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/samsaffron/grok-mind/internal/config"
)

// providerOption represents a provider choice in the setup wizard
type providerOption struct {
	name   string
	value  string
	envKey string
	model  string
}

var providerOptions = []providerOption{
	{name: "xAI Grok", value: config.ProviderXAI, envKey: "XAI_API_KEY", model: config.DefaultModel},
	{name: "OpenAI", value: config.ProviderOpenAI, envKey: "OPENAI_API_KEY", model: "gpt-4o-mini"},
	{name: "Anthropic", value: config.ProviderAnthropic, envKey: "ANTHROPIC_API_KEY", model: "claude-sonnet-4-5"},
	{name: "Gemini", value: config.ProviderGemini, envKey: "GEMINI_API_KEY", model: "gemini-2.5-flash"},
}

// DefaultModelFor returns the suggested model for a provider.
func DefaultModelFor(provider string) string {
	for _, p := range providerOptions {
		if p.value == provider {
			return p.model
		}
	}
	return config.DefaultModel
}

// RunSetupWizard asks for the provider, model, credential and listen
// address, starting from current. A key left empty is read from the
// provider's environment variable at runtime instead of being stored.
func RunSetupWizard(current *config.Config) (*config.Config, error) {
	tty, ttyErr := getTTY()
	if ttyErr == nil {
		defer tty.Close()
		fmt.Fprint(tty, "Welcome to grok-mind! Let's get you set up.\n\n")
	} else {
		fmt.Fprint(os.Stderr, "Welcome to grok-mind! Let's get you set up.\n\n")
	}

	cfg := *current
	if cfg.Provider == "" {
		cfg.Provider = config.DefaultProvider
	}

	var options []huh.Option[string]
	for _, p := range providerOptions {
		label := p.name + " - " + p.envKey
		if os.Getenv(p.envKey) != "" {
			label += " ✓"
		}
		options = append(options, huh.NewOption(label, p.value))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which LLM provider do you want to use?").
				Description("Providers marked ✓ have a key in the environment").
				Options(options...).
				Value(&cfg.Provider),
		),
	)
	if ttyErr == nil {
		form = form.WithInput(tty).WithOutput(tty)
	}
	if err := form.Run(); err != nil {
		return nil, err
	}

	if cfg.Model == "" || cfg.Provider != current.Provider {
		cfg.Model = DefaultModelFor(cfg.Provider)
	}
	apiKey := ""
	timeout := cfg.Timeout.String()

	details := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Model").
				Value(&cfg.Model).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("model is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("API key").
				Description("Leave empty to read it from the environment. Supports op:// and $(command)").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Request timeout").
				Value(&timeout).
				Validate(func(s string) error {
					_, err := time.ParseDuration(strings.TrimSpace(s))
					return err
				}),
			huh.NewInput().
				Title("Dashboard listen address").
				Value(&cfg.Listen),
		),
	)
	if ttyErr == nil {
		details = details.WithInput(tty).WithOutput(tty)
	}
	if err := details.Run(); err != nil {
		return nil, err
	}

	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.APIKey = strings.TrimSpace(apiKey)
	cfg.Timeout, _ = time.ParseDuration(strings.TrimSpace(timeout))
	if cfg.Provider != config.ProviderXAI || cfg.BaseURL == config.DefaultBaseURL {
		cfg.BaseURL = ""
	}
	return &cfg, nil
}

// getTTY opens the controlling terminal so the wizard works even when
// stdout is redirected.
func getTTY() (*os.File, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}
