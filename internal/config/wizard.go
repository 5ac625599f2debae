package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard asks for the handful of values a deployment cannot default.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== standup configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	tenant, err := w.ask("Tenant ID", "", validator.ValidateTenantID)
	if err != nil {
		return nil, err
	}
	cfg.TenantID = tenant

	baseURL, err := w.ask("App base URL (static assets)", "", func(s string) error {
		if s == "" {
			return nil
		}
		return validator.ValidateBaseURL("app base URL", s)
	})
	if err != nil {
		return nil, err
	}
	cfg.AppBaseURL = strings.TrimRight(baseURL, "/")

	maxMembers, err := w.ask("Maximum members per conversation", strconv.Itoa(cfg.MaxMembers), func(s string) error {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return fmt.Errorf("must be a positive number")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	cfg.MaxMembers, _ = strconv.Atoi(maxMembers)

	fmt.Fprintln(w.out)
	if w.confirm("Enable HTTP ingress (Bot Framework style connector)?", true) {
		cfg.Ingress.Enabled = true
		if cfg.Connector.ServiceURL, err = w.ask("Connector service URL", "", func(s string) error {
			return validator.ValidateBaseURL("service URL", s)
		}); err != nil {
			return nil, err
		}
		if cfg.Connector.Token, err = w.ask("Connector bearer token", "", nil); err != nil {
			return nil, err
		}
		if cfg.Ingress.SharedSecret, err = w.ask("Ingress shared secret", "", func(s string) error {
			if len(s) < 16 {
				return fmt.Errorf("use at least 16 characters")
			}
			return nil
		}); err != nil {
			return nil, err
		}
	} else {
		cfg.Ingress.Enabled = false
	}

	fmt.Fprintln(w.out)
	if w.confirm("Enable Telegram channel?", false) {
		cfg.Telegram.Enabled = true
		if cfg.Telegram.BotToken, err = w.ask("Telegram Bot Token", "", validator.ValidateTelegramToken); err != nil {
			return nil, err
		}
	}

	fmt.Fprintln(w.out)
	driver, err := w.ask("Session store (memory/sqlite/file)", cfg.Store.Driver, validator.ValidateStoreDriver)
	if err != nil {
		return nil, err
	}
	cfg.Store.Driver = driver

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level, validator.ValidateLogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Logging.Level = level

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// ask prompts until check accepts the answer. An empty answer selects def.
func (w *Wizard) ask(label, def string, check func(string) error) (string, error) {
	for {
		if def != "" {
			fmt.Fprintf(w.out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(w.out, "%s: ", label)
		}
		answer, err := w.readLine()
		if err != nil {
			return "", err
		}
		if answer == "" {
			answer = def
		}
		if check != nil {
			if err := check(answer); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
		}
		return answer, nil
	}
}

func (w *Wizard) confirm(label string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	fmt.Fprintf(w.out, "%s (%s): ", label, hint)
	answer, err := w.readLine()
	if err != nil || answer == "" {
		return def
	}
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
