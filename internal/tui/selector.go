package tui

import (
	"context"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/serenorg/pgreplicator/internal/filter"
	"github.com/serenorg/pgreplicator/internal/introspect"
	"github.com/serenorg/pgreplicator/internal/migerr"
)

func theme() *huh.Theme {
	t := huh.ThemeBase()
	t.Focused.Title = t.Focused.Title.Foreground(colorPrimary)
	t.Focused.SelectedOption = t.Focused.SelectedOption.Foreground(colorHighlight)
	t.Help = t.Help.Foreground(colorMuted)
	return t
}

// ruleKindNone marks "no per-table rule" in the rule-kind picker.
const ruleKindNone = "none"

// RunSelector drives the interactive selector (§6 "Interactive selector:
// given a source URL, returns (Filter, TableRules) or an error/
// cancellation"). databases is the source's database list, already
// retrieved by the caller via introspect.ListDatabases.
func RunSelector(ctx context.Context, databases []introspect.DatabaseInfo) (*filter.Filter, error) {
	f := filter.New()

	var names []string
	for _, d := range databases {
		names = append(names, d.Name)
	}

	var selected []string
	dbSelect := huh.NewMultiSelect[string]().
		Title("Select databases to replicate (none selected = all)").
		Options(huh.NewOptions(names...)...).
		Value(&selected)

	if err := huh.NewForm(huh.NewGroup(dbSelect)).WithTheme(theme()).RunWithContext(ctx); err != nil {
		return nil, userCancelOrErr(err, "select databases")
	}
	for _, db := range selected {
		f.AddIncludeDatabase(db)
	}

	for {
		var addRule bool
		confirmForm := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().Title("Add a per-table rule?").Value(&addRule),
		)).WithTheme(theme())
		if err := confirmForm.RunWithContext(ctx); err != nil {
			return nil, userCancelOrErr(err, "add rule prompt")
		}
		if !addRule {
			break
		}
		if err := promptOneRule(ctx, f); err != nil {
			return nil, err
		}
	}

	return f, nil
}

func promptOneRule(ctx context.Context, f *filter.Filter) error {
	var db, table, kind, predicate, column, interval string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Database").Value(&db),
			huh.NewInput().Title("Table (schema.table or bare table)").Value(&table),
			huh.NewSelect[string]().Title("Rule kind").
				Options(
					huh.NewOption("Schema only (skip data)", "schema_only"),
					huh.NewOption("Row predicate", "predicate"),
					huh.NewOption("Time window", "time_window"),
				).Value(&kind),
		),
	).WithTheme(theme())
	if err := form.RunWithContext(ctx); err != nil {
		return userCancelOrErr(err, "table rule prompt")
	}
	db, table = strings.TrimSpace(db), strings.TrimSpace(table)

	switch kind {
	case "schema_only":
		return f.AddSchemaOnly(db, table)
	case "predicate":
		predForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("SQL predicate (WHERE clause body)").Value(&predicate),
		)).WithTheme(theme())
		if err := predForm.RunWithContext(ctx); err != nil {
			return userCancelOrErr(err, "predicate prompt")
		}
		return f.AddPredicate(db, table, predicate)
	case "time_window":
		twForm := huh.NewForm(huh.NewGroup(
			huh.NewInput().Title("Timestamp column").Value(&column),
			huh.NewInput().Title("Interval (e.g. \"7 days\")").Value(&interval),
		)).WithTheme(theme())
		if err := twForm.RunWithContext(ctx); err != nil {
			return userCancelOrErr(err, "time window prompt")
		}
		return f.AddTimeWindow(db, table, column, interval)
	}
	return nil
}

func userCancelOrErr(err error, phase string) error {
	if err == huh.ErrUserAborted {
		return migerr.New(migerr.UserCancelled, "selection cancelled").WithPhase(phase)
	}
	return migerr.Wrap(migerr.Misconfiguration, err, "render "+phase)
}

// Box renders s inside the shared dashboard border style, for printing a
// one-shot summary (e.g. the final selected filter) outside a full
// bubbletea program.
func Box(title, body string) string {
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render(title), body))
}
