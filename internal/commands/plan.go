package commands

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/tildaslashalef/budgetsync/internal/app"
	"github.com/tildaslashalef/budgetsync/internal/plan"
	"github.com/tildaslashalef/budgetsync/internal/sync"
	"github.com/tildaslashalef/budgetsync/internal/utils"
	"github.com/urfave/cli/v2"
)

// PlanCommand returns the CLI command for managing budget plans
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Create and edit monthly budget plans",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List local plans",
				Action: func(c *cli.Context) error {
					application, err := startApp(c, true)
					if err != nil {
						return err
					}
					printPlans(application.Plans.List())
					return nil
				},
			},
			{
				Name:      "show",
				Usage:     "Show the lines of a plan",
				ArgsUsage: "<plan>",
				Action:    showPlanAction,
			},
			{
				Name:  "create",
				Usage: "Create a plan for a month",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "month",
						Aliases: []string{"m"},
						Usage:   "Month of the plan (YYYY-MM), defaults to the current month",
					},
					&cli.StringFlag{
						Name:    "name",
						Aliases: []string{"n"},
						Usage:   "Name of the plan",
					},
				},
				Action: createPlanAction,
			},
			{
				Name:   "demo",
				Usage:  "Create the demo plan, which stays on this device",
				Action: demoPlanAction,
			},
			{
				Name:      "rename",
				Usage:     "Rename a plan",
				ArgsUsage: "<plan> <name>",
				Action:    renamePlanAction,
			},
			lineCommand("income", "Add an income line", func(svc *plan.Service, c *cli.Context, id, label string, amount int64) (*plan.Plan, error) {
				return svc.AddIncome(c.Context, id, label, amount)
			}),
			lineCommand("expense", "Add an expense line", func(svc *plan.Service, c *cli.Context, id, label string, amount int64) (*plan.Plan, error) {
				return svc.AddExpense(c.Context, id, label, amount)
			}),
			lineCommand("envelope", "Add a spending envelope", func(svc *plan.Service, c *cli.Context, id, label string, amount int64) (*plan.Plan, error) {
				return svc.AddEnvelope(c.Context, id, label, amount)
			}),
			{
				Name:      "delete",
				Usage:     "Delete a plan here and in your account",
				ArgsUsage: "<plan>",
				Action:    deletePlanAction,
			},
		},
	}
}

// startApp returns the application with its local plans loaded
func startApp(c *cli.Context, autoSync bool) (*app.App, error) {
	application, err := app.FromContext(c)
	if err != nil {
		return nil, err
	}
	if err := application.Start(c.Context, autoSync); err != nil {
		return nil, err
	}
	return application, nil
}

func createPlanAction(c *cli.Context) error {
	application, err := startApp(c, true)
	if err != nil {
		return err
	}

	month := c.String("month")
	if month == "" {
		month = time.Now().Format(plan.MonthLayout)
	}

	p, err := application.Plans.Create(c.Context, month, c.String("name"))
	if err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Created %s (%s)", color.CyanString(p.Name), p.ID))
	return nil
}

func demoPlanAction(c *cli.Context) error {
	application, err := startApp(c, false)
	if err != nil {
		return err
	}

	p, err := application.Plans.CreateDemo(c.Context)
	if err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Created %s (%s)", color.CyanString(p.Name), p.ID))
	utils.PrintInfo("The demo plan is never uploaded to your account")
	return nil
}

func showPlanAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: budgetsync plan show <plan>")
	}

	application, err := startApp(c, true)
	if err != nil {
		return err
	}

	p, err := findPlan(application.Plans.List(), c.Args().First())
	if err != nil {
		return err
	}

	utils.PrintHeading(p.Name)
	utils.PrintKeyValue("ID", p.ID)
	utils.PrintKeyValue("Month", p.Month)
	utils.PrintKeyValue("Updated", utils.FormatTime(p.UpdatedAt))
	if !p.Syncable {
		utils.PrintKeyValueWithColor("Sync", "this device only", utils.Theme.Warning)
	}

	utils.PrintTable("Lines", []string{"Kind", "Label", "Amount", "Spent"}, planLines(p), 3, 4)
	utils.PrintKeyValue("Unallocated", utils.FormatCents(p.Unallocated()))
	return nil
}

func renamePlanAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: budgetsync plan rename <plan> <name>")
	}

	application, err := startApp(c, true)
	if err != nil {
		return err
	}

	p, err := findPlan(application.Plans.List(), c.Args().Get(0))
	if err != nil {
		return err
	}

	if _, err := application.Plans.Rename(c.Context, p.ID, c.Args().Get(1)); err != nil {
		return err
	}

	utils.PrintSuccess(fmt.Sprintf("Renamed %s to %s", p.Name, color.CyanString(c.Args().Get(1))))
	return nil
}

type lineFunc func(svc *plan.Service, c *cli.Context, id, label string, amount int64) (*plan.Plan, error)

func lineCommand(name, usage string, add lineFunc) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<plan> <label> <amount>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("usage: budgetsync plan %s <plan> <label> <amount>", name)
			}

			amount, err := utils.ParseCents(c.Args().Get(2))
			if err != nil {
				return err
			}

			application, err := startApp(c, true)
			if err != nil {
				return err
			}

			p, err := findPlan(application.Plans.List(), c.Args().Get(0))
			if err != nil {
				return err
			}

			updated, err := add(application.Plans, c, p.ID, c.Args().Get(1), amount)
			if err != nil {
				return err
			}

			utils.PrintSuccess(fmt.Sprintf("Added %s %s to %s", name, utils.FormatCents(amount), updated.Name))
			return nil
		},
	}
}

func deletePlanAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("usage: budgetsync plan delete <plan>")
	}

	application, err := startApp(c, true)
	if err != nil {
		return err
	}

	p, err := findPlan(application.Plans.List(), c.Args().First())
	if err != nil {
		return err
	}

	err = application.Plans.Delete(c.Context, p.ID)
	switch {
	case err == nil:
		utils.PrintSuccess("Deleted " + p.Name)
	case errors.Is(err, sync.ErrNotAuthenticated):
		utils.PrintSuccess("Deleted " + p.Name + " on this device")
	case errors.Is(err, plan.ErrRemoteDelete):
		utils.PrintWarning(fmt.Sprintf("Deleted %s on this device, but not in your account: %s", p.Name, err))
	default:
		return err
	}
	return nil
}

// findPlan resolves ref as a plan id, a unique id prefix or a plan name
func findPlan(plans []*plan.Plan, ref string) (*plan.Plan, error) {
	var byPrefix, byName []*plan.Plan
	for _, p := range plans {
		if p.ID == ref {
			return p, nil
		}
		if strings.HasPrefix(p.ID, ref) {
			byPrefix = append(byPrefix, p)
		}
		if strings.EqualFold(p.Name, ref) {
			byName = append(byName, p)
		}
	}

	for _, matches := range [][]*plan.Plan{byPrefix, byName} {
		switch len(matches) {
		case 0:
			continue
		case 1:
			return matches[0], nil
		default:
			return nil, fmt.Errorf("%q matches %d plans, use the plan id", ref, len(matches))
		}
	}
	return nil, fmt.Errorf("%w: %s", plan.ErrPlanNotFound, ref)
}

func printPlans(plans []*plan.Plan) {
	sorted := make([]*plan.Plan, len(plans))
	copy(sorted, plans)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Month != sorted[j].Month {
			return sorted[i].Month > sorted[j].Month
		}
		return sorted[i].Name < sorted[j].Name
	})

	rows := make([][]string, 0, len(sorted))
	for _, p := range sorted {
		rows = append(rows, planRow(p))
	}
	utils.PrintTable("Plans", []string{"ID", "Month", "Name", "Income", "Expenses", "Unallocated", "Updated"}, rows, 4, 5, 6)
}

func planRow(p *plan.Plan) []string {
	name := p.Name
	if !p.Syncable {
		name += " (local)"
	}
	return []string{
		p.ID,
		p.Month,
		utils.Truncate(name, 32),
		utils.FormatCents(p.TotalIncome()),
		utils.FormatCents(p.TotalExpenses()),
		utils.FormatCents(p.Unallocated()),
		utils.FormatTime(p.UpdatedAt),
	}
}

func planLines(p *plan.Plan) [][]string {
	rows := [][]string{}
	for _, item := range p.Incomes {
		rows = append(rows, []string{"income", item.Label, utils.FormatCents(item.Amount), ""})
	}
	for _, item := range p.Expenses {
		rows = append(rows, []string{"expense", item.Label, utils.FormatCents(item.Amount), ""})
	}
	for _, env := range p.Envelopes {
		rows = append(rows, []string{"envelope", env.Label, utils.FormatCents(env.Budget), utils.FormatCents(env.Spent)})
	}
	return rows
}
