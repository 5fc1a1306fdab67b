package commands

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/renewdesk/renewctl/internal/output"
	"github.com/renewdesk/renewctl/internal/resource"
	"github.com/renewdesk/renewctl/internal/tui"
)

// Item is a record of any resource endpoint.
type Item = map[string]any

// maxPageFetches bounds concurrent page requests for --all.
const maxPageFetches = 4

// maxPages caps the page count --all will follow.
const maxPages = 500

// parseParams turns key=value pairs into query values.
func parseParams(params []string) (url.Values, error) {
	v := url.Values{}
	for _, p := range params {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, output.ErrUsage(fmt.Sprintf("invalid --param %q, want key=value", p))
		}
		v.Add(key, value)
	}
	return v, nil
}

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var q resource.Query
	var params []string
	var all, renewal bool

	cmd := &cobra.Command{
		Use:   "list <endpoint>",
		Short: "List records of an endpoint",
		Example: `  renewctl list vehicles --search toyota --sort expiry_date
  renewctl list vehicles --page 2 --per-page 50
  renewctl list vehicles --all --ids-only
  renewctl list vehicles --renewal -p ids=4,9,12`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if q.Order != "" && q.Order != "asc" && q.Order != "desc" {
				return output.ErrUsage("--order must be asc or desc")
			}
			if q.Extra, err = parseParams(params); err != nil {
				return err
			}
			if renewal {
				q.Extra.Set("page_type", resource.PageTypeRenewal)
			}

			client := resource.NewClient[Item](app.Gateway, args[0])
			ctx := cmd.Context()

			switch {
			case all:
				items, err := listAll(ctx, client, q)
				if err != nil {
					return err
				}
				return app.OK(items, output.WithSummary(fmt.Sprintf("%d %s", len(items), client.Endpoint())))
			case q.Page > 0:
				page, err := client.ListPaginated(ctx, q)
				if err != nil {
					return err
				}
				opts := []output.ResponseOption{
					output.WithSummary(fmt.Sprintf("%d %s", len(page.Items), client.Endpoint())),
					output.WithMeta("pagination", page.Pagination),
				}
				if page.Pagination.HasMore() {
					opts = append(opts, output.WithBreadcrumbs(output.Breadcrumb{
						Action: "next",
						Cmd:    fmt.Sprintf("renewctl list %s --page %d", client.Endpoint(), page.Pagination.CurrentPage+1),
					}))
				}
				return app.OK(page.Items, opts...)
			default:
				items, err := client.List(ctx, q)
				if err != nil {
					return err
				}
				return app.OK(items, output.WithSummary(fmt.Sprintf("%d %s", len(items), client.Endpoint())))
			}
		},
	}

	cmd.Flags().IntVar(&q.Page, "page", 0, "Fetch one page (paginated listing)")
	cmd.Flags().IntVar(&q.PerPage, "per-page", 0, "Page size")
	cmd.Flags().StringVar(&q.Search, "search", "", "Search term")
	cmd.Flags().StringVar(&q.Sort, "sort", "", "Sort field")
	cmd.Flags().StringVar(&q.Order, "order", "", "Sort order: asc or desc")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Extra query parameter key=value (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "Fetch every page")
	cmd.Flags().BoolVar(&renewal, "renewal", false, "Use the renewal lookup endpoint")

	return cmd
}

// listAll reads the first page, then fetches the rest concurrently.
func listAll(ctx context.Context, client *resource.Client[Item], q resource.Query) ([]Item, error) {
	q.Page = 1
	first, err := client.ListPaginated(ctx, q)
	if err != nil {
		return nil, err
	}
	last := first.Pagination.LastPage
	if last <= 1 {
		return first.Items, nil
	}
	if last > maxPages {
		return nil, output.ErrUsageHint(
			fmt.Sprintf("%s reports %d pages, more than --all will fetch (%d)", client.Endpoint(), last, maxPages),
			"Narrow the listing with --search or --param, or raise --per-page",
		)
	}

	pages := make([][]Item, last)
	pages[0] = first.Items

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPageFetches)
	for n := 2; n <= last; n++ {
		pq := q
		pq.Page = n
		g.Go(func() error {
			page, err := client.ListPaginated(gctx, pq)
			if err != nil {
				return err
			}
			pages[n-1] = page.Items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var items []Item
	for _, p := range pages {
		items = append(items, p...)
	}
	return items, nil
}

// NewShowCmd creates the show command.
func NewShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <endpoint> <id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			client := resource.NewClient[Item](app.Gateway, args[0])
			item, err := client.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			if item == nil {
				return output.ErrNotFound(client.Endpoint(), args[1])
			}
			return app.OK(item, output.WithSummary(fmt.Sprintf("%s %s", client.Endpoint(), args[1])))
		},
	}
}

// NewCreateCmd creates the create command.
func NewCreateCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "create <endpoint>",
		Short: "Create a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			body, err := parseData(cmd, data)
			if err != nil {
				return err
			}

			client := resource.NewClient[Item](app.Gateway, args[0])
			item, err := client.Create(cmd.Context(), body)
			if err != nil {
				return err
			}

			opts := []output.ResponseOption{output.WithSummary("Created in " + client.Endpoint())}
			if id, ok := item["id"]; ok {
				opts = append(opts, output.WithBreadcrumbs(output.Breadcrumb{
					Action: "show",
					Cmd:    fmt.Sprintf("renewctl show %s %v", client.Endpoint(), id),
				}))
			}
			return app.OK(item, opts...)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON body ("@file" reads a file, "-" reads stdin)`)
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// NewUpdateCmd creates the update command.
func NewUpdateCmd() *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "update <endpoint> <id>",
		Short: "Update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			body, err := parseData(cmd, data)
			if err != nil {
				return err
			}

			client := resource.NewClient[Item](app.Gateway, args[0])
			item, err := client.Update(cmd.Context(), args[1], body)
			if err != nil {
				return err
			}
			return app.OK(item, output.WithSummary(fmt.Sprintf("Updated %s %s", client.Endpoint(), args[1])))
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", `JSON body ("@file" reads a file, "-" reads stdin)`)
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// NewDeleteCmd creates the delete command.
func NewDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete <endpoint> <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}

			client := resource.NewClient[Item](app.Gateway, args[0])
			if !yes && app.IsInteractive() {
				ok, err := tui.ConfirmDangerous(fmt.Sprintf("Delete %s %s?", client.Endpoint(), args[1]))
				if err != nil {
					return err
				}
				if !ok {
					return output.ErrUsage("canceled")
				}
			}

			if err := client.Delete(cmd.Context(), args[1]); err != nil {
				return err
			}
			return app.OK(map[string]string{"status": "deleted", "id": args[1]},
				output.WithSummary(fmt.Sprintf("Deleted %s %s", client.Endpoint(), args[1])))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}
