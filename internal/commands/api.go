package commands

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/renewdesk/renewctl/internal/gateway"
	"github.com/renewdesk/renewctl/internal/output"
)

var apiMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// NewAPICmd creates the api command for raw API access.
func NewAPICmd() *cobra.Command {
	var data string
	var params []string

	cmd := &cobra.Command{
		Use:   "api <method> <path>",
		Short: "Raw API access",
		Long: `Send a request to any endpoint through the session gateway, with the
same headers, retries and session handling as every other command.`,
		Example: `  renewctl api get users/profile
  renewctl api post vehicles --data '{"registration":"CA 123-456"}'
  renewctl api get vehicles -p search=toyota --jq '.[].id'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			method := strings.ToUpper(args[0])
			if !apiMethods[method] {
				return output.ErrUsageHint("Unknown method: "+args[0], "Use one of: get, post, put, patch, delete")
			}

			query, err := parseParams(params)
			if err != nil {
				return err
			}
			path := app.Gateway.URL(strings.TrimLeft(args[1], "/"), query)

			var body any
			if data != "" {
				if body, err = parseData(cmd, data); err != nil {
					return err
				}
			}

			req, err := gateway.NewJSONRequest(method, path, body)
			if err != nil {
				return output.ErrUsage(err.Error())
			}
			resp, err := app.Gateway.Do(cmd.Context(), req)
			if err != nil {
				return err
			}

			var payload any
			if err := resp.Decode(&payload); err != nil {
				payload = string(resp.Body)
			}
			// Unwrap the API's {success, data} envelope when present.
			if env, ok := payload.(map[string]any); ok {
				if d, ok := env["data"]; ok {
					if _, hasSuccess := env["success"]; hasSuccess {
						payload = d
					}
				}
			}

			return app.OK(payload,
				output.WithSummary(fmt.Sprintf("%s %s: %d", method, args[1], resp.StatusCode)),
			)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON request body ("@file" reads a file, "-" reads stdin)`)
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Query parameter key=value (repeatable)")

	return cmd
}
