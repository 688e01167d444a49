package tui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/tildaslashalef/budgetsync/internal/sync"
)

// Service runs prompts on a terminal
type Service struct {
	in  io.Reader
	out io.Writer
	run func(ctx context.Context, m Model) (Model, error)
}

// NewService creates a prompt service reading keys from in and drawing on out
func NewService(in io.Reader, out io.Writer) *Service {
	s := &Service{in: in, out: out}
	s.run = s.program
	return s
}

func (s *Service) program(ctx context.Context, m Model) (Model, error) {
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(s.in),
		tea.WithOutput(s.out),
	)

	final, err := p.Run()
	if err != nil {
		return m, fmt.Errorf("error running prompt: %w", err)
	}
	return final.(Model), nil
}

// Ask shows p and returns the chosen value. ok is false when the user
// dismissed the prompt.
func (s *Service) Ask(ctx context.Context, p Prompt) (value string, ok bool, err error) {
	final, err := s.run(ctx, NewModel(p))
	if err != nil {
		return "", false, err
	}
	value, ok = final.Result()
	return value, ok, nil
}

// ChooseStrategy implements sync.Chooser. Dismissing the prompt skips the
// sync for this session.
func (s *Service) ChooseStrategy(ctx context.Context, c sync.Choice) (sync.Strategy, error) {
	value, ok, err := s.Ask(ctx, StrategyPrompt(c))
	if err != nil {
		return "", err
	}
	if !ok {
		return sync.StrategyDismiss, nil
	}
	return sync.ParseStrategy(value)
}

// ConfirmMigration asks whether existing local plans should be uploaded
func (s *Service) ConfirmMigration(ctx context.Context, planCount int) (bool, error) {
	value, ok, err := s.Ask(ctx, MigrationPrompt(planCount))
	if err != nil {
		return false, err
	}
	return ok && value == "upload", nil
}

// StrategyPrompt builds the question shown when both sides hold plans
func StrategyPrompt(c sync.Choice) Prompt {
	return Prompt{
		Title: "Your plans exist in two places",
		Body: fmt.Sprintf("This device has %s and your account has %s. Choose how to bring them together.",
			plural(c.LocalCount, "plan"), plural(c.RemoteCount, "plan")),
		Options: []Option{
			{
				Label:       "Merge",
				Description: "Keep the newest version of every plan on both sides.",
				Value:       string(sync.StrategyMerge),
			},
			{
				Label:       "Use account plans",
				Description: "Bring in the plans from your account. Newer local edits still win.",
				Value:       string(sync.StrategyDownload),
			},
			{
				Label:       "Upload this device",
				Description: "Send every plan on this device to your account and leave local plans as they are.",
				Value:       string(sync.StrategyUploadLocal),
			},
			{
				Label:       "Not now",
				Description: "Skip syncing until you sign in again or run a sync yourself.",
				Value:       string(sync.StrategyDismiss),
			},
		},
	}
}

// MigrationPrompt builds the question offering to upload local plans
func MigrationPrompt(planCount int) Prompt {
	return Prompt{
		Title: "Back up your plans",
		Body:  fmt.Sprintf("You have %s on this device that are not in your account yet.", plural(planCount, "plan")),
		Options: []Option{
			{Label: "Upload now", Value: "upload"},
			{Label: "Later", Description: "We'll ask again in a few days.", Value: "later"},
		},
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
