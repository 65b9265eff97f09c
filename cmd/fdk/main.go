package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"foiadesk/internal/app"
	"foiadesk/internal/config"
	"foiadesk/internal/db"
	"foiadesk/internal/engine"
	"foiadesk/internal/migrate"
	"foiadesk/internal/repo"
	"foiadesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fdk",
	Short: "Foiadesk CLI",
	Long: `Foiadesk tracks public-records requests from draft to closure.
Core concepts:
- Workspace: a directory holding the .foiadesk database and an optional foiadesk.yml.
- Requests: one records request to one agency; statuses run started -> submitted -> ... -> done.
- Composers: a draft filed to many agencies at once, drawing on the owner's request quota.
- Agencies: the contact directory; unknown agencies are filed pending staff review.
- Tasks: the operator queue (orphaned mail, failed faxes, letters to post, stale agencies).
- Inbox: replies land on per-request aliases and queue response tasks.
- Event log: diary of everything that happened, view with 'fdk log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FOIADESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(agencyCmd())
	rootCmd.AddCommand(composeCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config is the rulebook: reply domain, quota tiers, stale thresholds, embargo expiry, and delivery channels. Stored in foiadesk.yml.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default foiadesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !viper.GetBool("force") {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "foiadesk", "service name")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{
		Use:   "request",
		Short: "Manage records requests",
	}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestListCmd())
	req.AddCommand(requestShowCmd())
	req.AddCommand(requestSubmitCmd())
	req.AddCommand(requestStatusCmd())
	req.AddCommand(requestAppealCmd())
	req.AddCommand(requestFollowupCmd())
	req.AddCommand(requestNoteCmd())
	req.AddCommand(requestCommsCmd())
	req.AddCommand(requestCollabCmd())
	req.AddCommand(requestEmbargoCmd())
	req.AddCommand(requestAccessKeyCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var agencyID, title, ask string
	var embargo bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				r, err := e.CreateRequest(ctx, engine.RequestCreateOptions{
					AgencyID: agencyID,
					OwnerID:  actor,
					Title:    title,
					Ask:      ask,
					Embargo:  embargo,
					ActorID:  actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&agencyID, "agency", "", "agency id")
	cmd.Flags().StringVar(&title, "title", "", "request title")
	cmd.Flags().StringVar(&ask, "ask", "", "request body")
	cmd.Flags().BoolVar(&embargo, "embargo", false, "hide from public view")
	_ = cmd.MarkFlagRequired("agency")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func requestListCmd() *cobra.Command {
	var f repo.RequestFilters
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if mine {
					f.OwnerID = viper.GetString("actor-id")
				}
				items, err := e.Repo.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Agency", "Owner"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Title, r.Status, r.AgencyID, r.OwnerID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AgencyID, "agency", "", "agency filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ComposerID, "composer", "", "composer filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	cmd.Flags().BoolVar(&mine, "mine", false, "only requests you own")
	return cmd
}

func requestShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func requestSubmitCmd() *cobra.Command {
	var ask string
	cmd := &cobra.Command{
		Use:   "submit <request-id>",
		Short: "Submit a draft to its agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Submit(ctx, args[0], ask, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&ask, "ask", "", "override request body")
	return cmd
}

func requestStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <request-id> <status>",
		Short: "Set request status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.SetStatus(ctx, args[0], args[1], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	return cmd
}

func requestAppealCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "appeal <request-id>",
		Short: "File an appeal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Appeal(ctx, args[0], text, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "appeal text")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func requestFollowupCmd() *cobra.Command {
	var body string
	var payment bool
	cmd := &cobra.Command{
		Use:   "followup <request-id>",
		Short: "Send a follow-up to the agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				send := e.Dispatch
				if payment {
					send = e.DispatchPayment
				}
				c, err := send(ctx, args[0], body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().BoolVar(&payment, "payment", false, "mail as a fee payment letter")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func requestNoteCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "note <request-id>",
		Short: "Add a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddNote(ctx, args[0], body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "note body")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func requestCommsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comms <request-id>",
		Short: "List correspondence for a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCommunications(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Dir", "TS", "From", "Subject", "Status"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Direction, c.TS, c.From, c.Subject, c.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func requestCollabCmd() *cobra.Command {
	collab := &cobra.Command{
		Use:   "collab",
		Short: "Manage request collaborators",
	}
	type op struct {
		use, short string
		fn         func(engine.Engine, context.Context, string, string, string) (any, error)
	}
	ops := []op{
		{"add-editor", "Grant edit access", func(e engine.Engine, ctx context.Context, req, user, actor string) (any, error) {
			return e.AddEditor(ctx, req, user, actor)
		}},
		{"remove-editor", "Revoke edit access", func(e engine.Engine, ctx context.Context, req, user, actor string) (any, error) {
			return e.RemoveEditor(ctx, req, user, actor)
		}},
		{"add-viewer", "Grant view access", func(e engine.Engine, ctx context.Context, req, user, actor string) (any, error) {
			return e.AddViewer(ctx, req, user, actor)
		}},
		{"remove-viewer", "Revoke view access", func(e engine.Engine, ctx context.Context, req, user, actor string) (any, error) {
			return e.RemoveViewer(ctx, req, user, actor)
		}},
		{"promote", "Promote viewer to editor", func(e engine.Engine, ctx context.Context, req, user, actor string) (any, error) {
			return e.PromoteViewer(ctx, req, user, actor)
		}},
		{"demote", "Demote editor to viewer", func(e engine.Engine, ctx context.Context, req, user, actor string) (any, error) {
			return e.DemoteEditor(ctx, req, user, actor)
		}},
	}
	for _, o := range ops {
		o := o
		cmd := &cobra.Command{
			Use:   o.use + " <request-id> <user-id>",
			Short: o.short,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					res, err := o.fn(e, ctx, args[0], args[1], viper.GetString("actor-id"))
					if err != nil {
						return err
					}
					return printJSONOrTable(res)
				})
			},
		}
		collab.AddCommand(cmd)
	}
	return collab
}

func requestEmbargoCmd() *cobra.Command {
	var permanent bool
	var clear bool
	cmd := &cobra.Command{
		Use:   "embargo <request-id>",
		Short: "Set or clear an embargo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				var err error
				var r any
				if clear {
					r, err = e.RemoveEmbargo(ctx, args[0], actor)
				} else {
					r, err = e.SetEmbargo(ctx, args[0], permanent, actor)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	cmd.Flags().BoolVar(&permanent, "permanent", false, "never auto-expire")
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the embargo")
	return cmd
}

func requestAccessKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access-key <request-id>",
		Short: "Rotate the share link key for an embargoed request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, err := e.GenerateAccessKey(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"request_id": args[0], "access_key": key})
			})
		},
	}
	return cmd
}

func agencyCmd() *cobra.Command {
	ag := &cobra.Command{
		Use:   "agency",
		Short: "Manage the agency directory",
	}
	ag.AddCommand(agencyCreateCmd())
	ag.AddCommand(agencyListCmd())
	ag.AddCommand(agencyShowCmd())
	ag.AddCommand(agencyUpdateCmd())
	return ag
}

func agencyCreateCmd() *cobra.Command {
	var opts engine.AgencyCreateOptions
	var pending bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an agency",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = viper.GetString("actor-id")
				opts.Approved = !pending
				a, err := e.CreateAgency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "agency name")
	cmd.Flags().StringVar(&opts.Jurisdiction, "jurisdiction", "", "jurisdiction")
	cmd.Flags().StringVar(&opts.Email, "email", "", "request email")
	cmd.Flags().StringVar(&opts.Fax, "fax", "", "fax number")
	cmd.Flags().StringVar(&opts.PortalURL, "portal-url", "", "portal URL")
	cmd.Flags().StringVar(&opts.Address, "address", "", "mailing address")
	cmd.Flags().BoolVar(&pending, "pending", false, "queue for review instead of approving")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("jurisdiction")
	return cmd
}

func agencyListCmd() *cobra.Command {
	var f repo.AgencyFilters
	var staleOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if staleOnly {
					t := true
					f.Stale = &t
				}
				items, err := e.Repo.ListAgencies(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Jurisdiction", "Status", "Stale"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Jurisdiction, a.Status, a.Stale})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Jurisdiction, "jurisdiction", "", "jurisdiction filter")
	cmd.Flags().BoolVar(&staleOnly, "stale", false, "only stale agencies")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func agencyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <agency-id>",
		Short: "Show an agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Repo.GetAgency(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agencyUpdateCmd() *cobra.Command {
	var email, fax, portalURL, address, status string
	cmd := &cobra.Command{
		Use:   "update <agency-id>",
		Short: "Update agency contact info or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.AgencyUpdateOptions{ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("email") {
					opts.Email = &email
				}
				if cmd.Flags().Changed("fax") {
					opts.Fax = &fax
				}
				if cmd.Flags().Changed("portal-url") {
					opts.PortalURL = &portalURL
				}
				if cmd.Flags().Changed("address") {
					opts.Address = &address
				}
				if cmd.Flags().Changed("status") {
					opts.Status = &status
				}
				a, err := e.UpdateAgency(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "request email")
	cmd.Flags().StringVar(&fax, "fax", "", "fax number")
	cmd.Flags().StringVar(&portalURL, "portal-url", "", "portal URL")
	cmd.Flags().StringVar(&address, "address", "", "mailing address")
	cmd.Flags().StringVar(&status, "status", "", "pending, approved, or rejected")
	return cmd
}

func composeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "compose",
		Short: "Draft and file multi-agency requests",
	}
	c.AddCommand(composeCreateCmd())
	c.AddCommand(composeUpdateCmd())
	c.AddCommand(composeShowCmd())
	c.AddCommand(composeListCmd())
	c.AddCommand(composeSubmitCmd())
	return c
}

func composerAgencyRefs(ids, names []string) []engine.AgencyRef {
	var refs []engine.AgencyRef
	for _, id := range ids {
		refs = append(refs, engine.AgencyRef{ID: id})
	}
	for _, n := range names {
		// "Name@jurisdiction" creates the agency on file if unknown.
		name, jur := n, ""
		if i := strings.LastIndex(n, "@"); i >= 0 {
			name, jur = n[:i], n[i+1:]
		}
		refs = append(refs, engine.AgencyRef{Name: name, Jurisdiction: jur})
	}
	return refs
}

func composeCreateCmd() *cobra.Command {
	var title, ask string
	var agencyIDs, agencyNames []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a composer draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				c, err := e.CreateComposer(ctx, engine.ComposerOptions{
					Title:    title,
					Ask:      ask,
					OwnerID:  actor,
					Agencies: composerAgencyRefs(agencyIDs, agencyNames),
					ActorID:  actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "draft title")
	cmd.Flags().StringVar(&ask, "ask", "", "request body")
	cmd.Flags().StringArrayVar(&agencyIDs, "agency", []string{}, "agency id (repeatable)")
	cmd.Flags().StringArrayVar(&agencyNames, "agency-name", []string{}, "new agency as Name@jurisdiction (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func composeUpdateCmd() *cobra.Command {
	var title, ask string
	var agencyIDs, agencyNames []string
	cmd := &cobra.Command{
		Use:   "update <composer-id>",
		Short: "Update a composer draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.UpdateComposer(ctx, args[0], engine.ComposerOptions{
					Title:    title,
					Ask:      ask,
					Agencies: composerAgencyRefs(agencyIDs, agencyNames),
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "draft title")
	cmd.Flags().StringVar(&ask, "ask", "", "request body")
	cmd.Flags().StringArrayVar(&agencyIDs, "agency", []string{}, "agency id (repeatable)")
	cmd.Flags().StringArrayVar(&agencyNames, "agency-name", []string{}, "new agency as Name@jurisdiction (repeatable)")
	return cmd
}

func composeShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <composer-id>",
		Short: "Show a composer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetComposer(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func composeListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your composer drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListComposers(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func composeSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <composer-id>",
		Short: "File the draft to every listed agency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SubmitComposer(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Operator task queue",
		Long:  "Tasks collect everything needing a human: orphaned replies, letters to post, failed faxes, stale agencies, and new-agency reviews.",
	}
	t.AddCommand(taskListCmd())
	t.AddCommand(taskShowCmd())
	t.AddCommand(taskResolveCmd())
	t.AddCommand(taskDeferCmd())
	t.AddCommand(taskStaleRequestsCmd())
	return t
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	var includeResolved bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List open tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !includeResolved {
					resolved := false
					f.Resolved = &resolved
				}
				f.StaffKinds = true
				tasks, err := e.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Request", "Agency", "Created"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Kind, deref(t.RequestID), deref(t.AgencyID), t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.RequestID, "request", "", "request filter")
	cmd.Flags().StringVar(&f.AgencyID, "agency", "", "agency filter")
	cmd.Flags().BoolVar(&f.ShowAll, "include-deferred", false, "include deferred tasks")
	cmd.Flags().BoolVar(&includeResolved, "include-resolved", false, "include resolved tasks")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskResolveCmd() *cobra.Command {
	var res engine.TaskResolution
	var price float64
	var checkNumber int
	var approve, reject bool
	cmd := &cobra.Command{
		Use:   "resolve <task-id>",
		Short: "Resolve a task",
		Long:  "Fields apply per kind: orphans take --request targets or --blacklist, responses take status and request metadata, snail-mail takes --check-number and --update-date, stale agencies take --email, reviews take --approve or --reject-replace.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res.ActorID = viper.GetString("actor-id")
				if cmd.Flags().Changed("price") {
					res.Price = &price
				}
				if cmd.Flags().Changed("check-number") {
					res.CheckNumber = &checkNumber
				}
				if approve {
					t := true
					res.Approve = &t
				} else if reject {
					f := false
					res.Approve = &f
				}
				t, err := e.ResolveTask(ctx, args[0], res)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().BoolVar(&res.KeepOpen, "keep-open", false, "apply changes without resolving")
	cmd.Flags().StringVar(&res.Status, "status", "", "classified status")
	cmd.Flags().BoolVar(&res.Propagate, "propagate", false, "apply status to the request")
	cmd.Flags().StringVar(&res.TrackingID, "tracking-id", "", "agency tracking id")
	cmd.Flags().StringVar(&res.DateEstimate, "date-estimate", "", "estimated completion date")
	cmd.Flags().Float64Var(&price, "price", 0, "quoted fee")
	cmd.Flags().StringArrayVar(&res.RequestIDs, "request", []string{}, "target request id (repeatable)")
	cmd.Flags().BoolVar(&res.Blacklist, "blacklist", false, "blacklist the sender domain")
	cmd.Flags().IntVar(&checkNumber, "check-number", 0, "mailed check number")
	cmd.Flags().BoolVar(&res.UpdateDate, "update-date", false, "stamp the letter as mailed now")
	cmd.Flags().StringVar(&res.Email, "email", "", "replacement agency email")
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the reviewed agency")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the reviewed agency")
	cmd.Flags().StringVar(&res.ReplacementAgencyID, "reject-replace", "", "agency receiving the rejected agency's requests")
	cmd.Flags().StringVar(&res.Reply, "reply", "", "reply to the filer")
	return cmd
}

func taskDeferCmd() *cobra.Command {
	var until string
	cmd := &cobra.Command{
		Use:   "defer <task-id>",
		Short: "Defer a task until a later date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DeferTask(ctx, args[0], until, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&until, "until", "", "defer until (RFC3339 or YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("until")
	return cmd
}

func taskStaleRequestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stale-requests <task-id>",
		Short: "List the open requests behind a stale-agency task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.StaleRequests(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func scanCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "scan",
		Short: "Run periodic scanners",
	}
	s.AddCommand(&cobra.Command{
		Use:   "stale",
		Short: "Flag agencies with no recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.RunStaleScan(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "embargo",
		Short: "Expire lapsed embargoes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				report, err := e.RunEmbargoExpiry(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(report)
			})
		},
	})
	return s
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: filings, status changes, task resolutions, and more.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.TailEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func keysCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	k.AddCommand(keysCreateCmd())
	k.AddCommand(keysListCmd())
	k.AddCommand(keysDeleteCmd())
	return k
}

func keysCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw, key, err := server.MintAPIKey(ctx, r, viper.GetString("actor-id"), name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keysListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

// runScanners drives the periodic maintenance scans while the server is up.
func runScanners(ctx context.Context, e engine.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.RunStaleScan(ctx); err != nil {
				fmt.Println("stale scan:", err)
			}
			if _, err := e.RunEmbargoExpiry(ctx); err != nil {
				fmt.Println("embargo expiry:", err)
			}
		}
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	var scanEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfigAndActor(cmd.Context(), workspace, viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("FOIADESK_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FOIADESK_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{
				Engine:        e,
				BasePath:      basePath,
				Auth:          authCfg,
				InboundSecret: os.Getenv("FOIADESK_INBOUND_SECRET"),
			})
			if err != nil {
				return err
			}
			if scanEvery > 0 {
				go runScanners(cmd.Context(), e, scanEvery)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Foiadesk API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "trust X-Actor-Id (dev only)")
	cmd.Flags().DurationVar(&scanEvery, "scan-interval", time.Hour, "how often to run the stale and embargo scans (0 disables)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	cfg, err := app.ResolveConfigAndActor(ctx, workspace, viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
