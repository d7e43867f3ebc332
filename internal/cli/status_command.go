package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"yt-transcripts/internal/model"
	"yt-transcripts/internal/runstore"
)

type statusView struct {
	Manifest runstore.Manifest `json:"manifest"`
	Items    []runstore.Row    `json:"items,omitempty"`
}

func newStatusCommand(cc *commandContext) *cobra.Command {
	var showItems bool
	var failedOnly bool
	var outputRoot string
	cmd := &cobra.Command{
		Use:   "status <session-id|latest>",
		Short: "Show counters and item states of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			root, err := resolveRoot(cfg, runFlags{outputRoot: outputRoot})
			if err != nil {
				return err
			}
			id, err := resolveSessionID(root, args[0])
			if err != nil {
				return err
			}
			manifest, rows, err := runstore.ReadSnapshot(root, id)
			if err != nil {
				return err
			}
			if failedOnly {
				rows = filterFailed(rows)
				showItems = true
			}

			if cc.jsonFlag {
				view := statusView{Manifest: manifest}
				if showItems {
					view.Items = rows
				}
				return printJSON(cc.stdout, view)
			}
			fmt.Fprint(cc.stdout, renderStatus(manifest))
			if showItems {
				fmt.Fprintln(cc.stdout, renderItems(rows))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showItems, "items", false, "List every item")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "List only failed items")
	cmd.Flags().StringVar(&outputRoot, "output-root", "", "Directory holding session directories (default from config)")
	return cmd
}

func newSessionsCommand(cc *commandContext) *cobra.Command {
	var outputRoot string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions under the output root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cc.ensureConfig()
			if err != nil {
				return err
			}
			root, err := resolveRoot(cfg, runFlags{outputRoot: outputRoot})
			if err != nil {
				return err
			}
			manifests, err := runstore.ListSessions(root)
			if err != nil {
				return err
			}
			if cc.jsonFlag {
				return printJSON(cc.stdout, manifests)
			}
			if len(manifests) == 0 {
				fmt.Fprintf(cc.stdout, "no sessions in %s\n", root)
				return nil
			}
			rows := make([][]string, 0, len(manifests))
			for _, m := range manifests {
				state := "finished"
				if m.FinishedAt == "" {
					state = "open"
				}
				rows = append(rows, []string{
					m.SessionID,
					m.CreatedAt,
					strconv.Itoa(m.Total),
					strconv.Itoa(m.Succeeded),
					strconv.Itoa(m.FailedRetryable),
					strconv.Itoa(m.FailedPermanent),
					strconv.Itoa(m.Pending + m.InProgress),
					state,
				})
			}
			fmt.Fprintln(cc.stdout, renderTable(
				[]string{"Session", "Created", "Total", "OK", "Retry", "Perm", "Left", "State"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVar(&outputRoot, "output-root", "", "Directory holding session directories (default from config)")
	return cmd
}

func renderStatus(m runstore.Manifest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("session "+m.SessionID))
	fmt.Fprintf(&b, "created %s, updated %s", m.CreatedAt, m.UpdatedAt)
	if m.FinishedAt != "" {
		fmt.Fprintf(&b, ", finished %s", m.FinishedAt)
	}
	b.WriteString("\n")
	if len(m.Tiers) > 0 {
		fmt.Fprintf(&b, "tiers: %s\n", strings.Join(m.Tiers, " > "))
	}
	for name, kind := range m.DisabledTiers {
		fmt.Fprintf(&b, "disabled: %s (%s)\n", name, kind)
	}
	b.WriteString(renderTable(
		[]string{"Status", "Items"},
		[][]string{
			{string(model.StatusSucceeded), strconv.Itoa(m.Succeeded)},
			{string(model.StatusFailedRetryable), strconv.Itoa(m.FailedRetryable)},
			{string(model.StatusFailedPermanent), strconv.Itoa(m.FailedPermanent)},
			{string(model.StatusPending), strconv.Itoa(m.Pending)},
			{string(model.StatusInProgress), strconv.Itoa(m.InProgress)},
			{"total", strconv.Itoa(m.Total)},
		},
		[]columnAlignment{alignLeft, alignRight},
	))
	b.WriteString("\n")
	for _, line := range m.Summary {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}

func renderItems(rows []runstore.Row) string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, []string{
			r.Identity,
			string(r.Status),
			r.MethodUsed,
			string(r.ErrorKind),
			strconv.Itoa(r.Attempts),
			shorten(r.Detail, 60),
		})
	}
	return renderTable(
		[]string{"Video", "Status", "Method", "Error", "Attempts", "Detail"},
		out,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func filterFailed(rows []runstore.Row) []runstore.Row {
	out := make([]runstore.Row, 0, len(rows))
	for _, r := range rows {
		if r.Status == model.StatusFailedRetryable || r.Status == model.StatusFailedPermanent {
			out = append(out, r)
		}
	}
	return out
}

func shorten(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
