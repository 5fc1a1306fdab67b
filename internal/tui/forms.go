// Package tui provides the interactive prompts used when a terminal is attached.
package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/huh"
)

// ErrCanceled is returned when the user aborts a prompt.
var ErrCanceled = errors.New("canceled")

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("this field is required")
	}
	return nil
}

// run maps huh's abort error onto ErrCanceled.
func run(f interface{ Run() error }) error {
	if err := f.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return ErrCanceled
		}
		return err
	}
	return nil
}

// InputRequired shows a required text input prompt.
func InputRequired(title, placeholder string) (string, error) {
	var result string
	err := run(huh.NewInput().
		Title(title).
		Placeholder(placeholder).
		Value(&result).
		Validate(required))
	return strings.TrimSpace(result), err
}

// Password shows a masked input prompt.
func Password(title string) (string, error) {
	var result string
	err := run(huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&result).
		Validate(required))
	return result, err
}

// ConfirmDangerous shows a confirmation prompt for destructive actions.
func ConfirmDangerous(message string) (bool, error) {
	var result bool
	err := run(huh.NewConfirm().
		Title(message).
		Description("This action cannot be undone.").
		Affirmative("Yes, I'm sure").
		Negative("Cancel").
		Value(&result))
	if err != nil {
		return false, err
	}
	return result, nil
}

// SelectOption represents an option in a select prompt.
type SelectOption struct {
	Value string
	Label string
}

// Select shows a single-select prompt.
func Select(title string, options []SelectOption) (string, error) {
	huhOptions := make([]huh.Option[string], len(options))
	for i, opt := range options {
		huhOptions[i] = huh.NewOption(opt.Label, opt.Value)
	}

	var result string
	err := run(huh.NewSelect[string]().
		Title(title).
		Options(huhOptions...).
		Value(&result))
	return result, err
}

// LoginForm asks for the email and password together, skipping fields
// already provided.
func LoginForm(email, password *string) error {
	var fields []huh.Field
	if *email == "" {
		fields = append(fields, huh.NewInput().Title("Email").Placeholder("you@example.com").Value(email).Validate(required))
	}
	if *password == "" {
		fields = append(fields, huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(password).Validate(required))
	}
	if len(fields) == 0 {
		return nil
	}
	if err := run(huh.NewForm(huh.NewGroup(fields...).Title("Sign in to renewctl"))); err != nil {
		return err
	}
	*email = strings.TrimSpace(*email)
	return nil
}
