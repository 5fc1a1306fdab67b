// Package commands implements the CLI commands.
package commands

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/renewdesk/renewctl/internal/appctx"
	"github.com/renewdesk/renewctl/internal/output"
	"github.com/renewdesk/renewctl/internal/tui"
)

func appFrom(cmd *cobra.Command) (*appctx.App, error) {
	app := appctx.FromContext(cmd.Context())
	if app == nil {
		return nil, fmt.Errorf("app not initialized")
	}
	return app, nil
}

func requireSession(app *appctx.App) error {
	if !app.Auth.IsLoggedIn() {
		return output.ErrAuth("Not logged in")
	}
	return nil
}

// spin runs fn behind a spinner when a terminal is attached.
func spin(app *appctx.App, message string, fn func() error) error {
	if !app.IsInteractive() {
		return fn()
	}
	return tui.Spin(message, fn)
}

// parseData decodes a --data value. "@path" reads a file and "-" reads stdin.
func parseData(cmd *cobra.Command, data string) (any, error) {
	var raw []byte
	switch {
	case data == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		raw = b
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, output.ErrUsage(fmt.Sprintf("cannot read %s: %v", data[1:], err))
		}
		raw = b
	default:
		raw = []byte(data)
	}

	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, output.ErrUsageHint("Invalid JSON data", fmt.Sprintf("JSON parse error: %v", err))
	}
	return body, nil
}

// readSecret reads one line from stdin for --password-stdin.
func readSecret(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptMissing fills empty values by prompting, or fails with a usage
// error naming the flag when no terminal is attached.
func promptMissing(app *appctx.App, value *string, flag, title string, secret bool) error {
	if *value != "" {
		return nil
	}
	if !app.IsInteractive() {
		return output.ErrUsage(fmt.Sprintf("--%s is required", flag))
	}
	var err error
	if secret {
		*value, err = tui.Password(title)
	} else {
		*value, err = tui.InputRequired(title, "")
	}
	if errors.Is(err, tui.ErrCanceled) {
		return output.ErrUsage("canceled")
	}
	return err
}
