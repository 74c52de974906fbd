package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kipdesk/internal/app"
	"kipdesk/internal/domain"
	"kipdesk/internal/engine"
)

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	usr.AddCommand(userAddCmd())
	usr.AddCommand(userListCmd())
	return usr
}

func userAddCmd() *cobra.Command {
	var entry domain.DirectoryEntry
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if entry.ID == "" || entry.Role == "" {
				return fmt.Errorf("--id and --role required")
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				if err := ws.Repo.UpsertUser(ctx, entry, time.Now()); err != nil {
					return err
				}
				u, err := ws.Repo.ResolveUser(ctx, entry.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&entry.ID, "id", "", "user id")
	cmd.Flags().StringVar(&entry.Role, "role", "", "raw role (PEMOHON, PPID_UTAMA, PPID_PELAKSANA, ATASAN_PPID, ADMIN)")
	cmd.Flags().StringVar(&entry.DisplayName, "name", "", "display name")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace) error {
				users, err := ws.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Role", "Class", "Name"})
				for _, u := range users {
					class := "unknown"
					if rc, err := domain.ClassifyRole(u.Role); err == nil {
						class = rc.String()
					}
					tw.AppendRow(table.Row{u.ID, u.Role, class, u.DisplayName})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func requestCmd() *cobra.Command {
	req := &cobra.Command{Use: "request", Short: "File and escalate information requests"}
	req.AddCommand(requestCreateCmd())
	req.AddCommand(requestEligibilityCmd())
	req.AddCommand(requestEscalateCmd())
	return req
}

func requestCreateCmd() *cobra.Command {
	var d engine.RequestDetails
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a request as the acting requester",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateRequest(ctx, actor, d)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&d.Information, "information", "", "information requested")
	cmd.Flags().StringVar(&d.Purpose, "purpose", "", "purpose of the request")
	cmd.Flags().StringVar(&d.DeliveryMethod, "delivery", "email", "delivery method: email, pickup, post")
	return cmd
}

func requestEligibilityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eligibility <request-id>",
		Short: "Show whether a request can be escalated",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				el, err := e.CheckEscalation(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(el)
			})
		},
	}
}

func requestEscalateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "escalate <request-id>",
		Short: "File an objection against an overdue request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				obj, err := e.EscalateToObjection(ctx, actor, id, reason)
				if err != nil {
					return err
				}
				return printJSONOrTable(obj)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "objection reason")
	return cmd
}

func caseCmd() *cobra.Command {
	cs := &cobra.Command{Use: "case", Short: "Work on requests and objections"}
	cs.AddCommand(caseListCmd())
	cs.AddCommand(caseShowCmd())
	cs.AddCommand(caseTransitionCmd())
	cs.AddCommand(caseClaimCmd())
	cs.AddCommand(casePostCmd())
	cs.AddCommand(caseMessagesCmd())
	return cs
}

func caseListCmd() *cobra.Command {
	var kind, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases visible to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			var filter *domain.Status
			if status != "" {
				st, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				filter = &st
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cases, err := e.ListVisibleCases(ctx, actor, domain.CaseKind(kind), filter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Requester", "Assignee", "Created"})
				for _, c := range cases {
					assignee := ""
					if c.AssignedCaseWorkerID != nil {
						assignee = *c.AssignedCaseWorkerID
					}
					tw.AppendRow(table.Row{c.ID, c.Kind, c.Status, c.RequesterID, assignee, c.CreatedAt.Format(time.DateTime)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "request or objection (default both)")
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func caseShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show a case and the actions open to the actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.DescribeCase(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(view)
			})
		},
	}
}

func caseTransitionCmd() *cobra.Command {
	var to, assignee, note string
	cmd := &cobra.Command{
		Use:   "transition <case-id>",
		Short: "Move a case to another status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.TransitionStatus(ctx, engine.TransitionOptions{
					ActorID:    actor,
					CaseID:     id,
					Target:     domain.Status(to),
					AssigneeID: assignee,
					Note:       note,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&assignee, "assignee", "", "case worker to forward to")
	cmd.Flags().StringVar(&note, "note", "", "note for the system message (rejections)")
	return cmd
}

func caseClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <case-id>",
		Short: "Claim a forwarded case",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ClaimCase(ctx, actor, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func casePostCmd() *cobra.Command {
	var body, kind string
	cmd := &cobra.Command{
		Use:   "post <case-id>",
		Short: "Append a message to a case thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			mk, err := domain.ParseMessageKind(kind)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msg, err := e.PostMessage(ctx, actor, id, body, mk)
				if err != nil {
					return err
				}
				return printJSONOrTable(msg)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "message text")
	cmd.Flags().StringVar(&kind, "kind", "ordinary", "ordinary or evidence")
	return cmd
}

func caseMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <case-id>",
		Short: "Print a case thread, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				msgs, err := e.ListMessages(ctx, actor, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(msgs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Author", "Role", "Kind", "Body"})
				for _, m := range msgs {
					tw.AppendRow(table.Row{m.CreatedAt.Format(time.DateTime), m.AuthorID, m.AuthorRole, m.Kind, m.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func notificationsCmd() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Count cases awaiting the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !list {
					counts, err := e.GetNotificationCounts(ctx, actor)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(counts)
					}
					fmt.Printf("requests: %d\nobjections: %d\n", counts.RequestsPending, counts.ObjectionsPending)
					return nil
				}
				items, err := e.ListAttention(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Status", "Thread", "Messages"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Case.ID, it.Case.Kind, it.Case.Status, it.ThreadState, it.MessageCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "list the cases instead of counting")
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var caseID int64
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, actor, n, caseID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().Int64Var(&caseID, "case", 0, "case id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}
