package commands

import (
	"github.com/spf13/cobra"

	"github.com/renewdesk/renewctl/internal/output"
)

// NewProfileCmd creates the profile command group.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update your user profile",
	}
	show := newAuthWhoamiCmd()
	show.Use = "show"
	cmd.AddCommand(show, newProfileUpdateCmd())
	return cmd
}

func newProfileUpdateCmd() *cobra.Command {
	var name, surname, email, tel string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update profile fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := requireSession(app); err != nil {
				return err
			}

			p, err := app.Users.Profile(cmd.Context())
			if err != nil {
				return err
			}

			changed := false
			for flag, field := range map[string]*string{
				"name":    &p.Name,
				"surname": &p.Surname,
				"email":   &p.Email,
				"tel":     &p.TelCell,
			} {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					*field = v
					changed = true
				}
			}
			if !changed {
				return output.ErrUsageHint("nothing to update", "Pass at least one of --name, --surname, --email, --tel")
			}

			updated, err := app.Users.UpdateProfile(cmd.Context(), *p)
			if err != nil {
				return err
			}
			return app.OK(updated, output.WithSummary("Profile updated"))
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "First name")
	cmd.Flags().StringVar(&surname, "surname", "", "Surname")
	cmd.Flags().StringVar(&email, "email", "", "Email")
	cmd.Flags().StringVar(&tel, "tel", "", "Mobile number")
	return cmd
}
