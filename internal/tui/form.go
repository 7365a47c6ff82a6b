package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"github.com/tonylturner/linkshim/internal/diag"
)

// HarnessChoices are the harness settings the interactive form edits.
type HarnessChoices struct {
	Steps      []string
	Watchdog   time.Duration
	StartDelay time.Duration
	Probe      string
}

// harnessFormValues holds the form's string-typed fields.
type harnessFormValues struct {
	steps      []string
	watchdog   string
	startDelay string
	probe      string
	confirm    bool
}

func newHarnessFormValues(defaults HarnessChoices) *harnessFormValues {
	return &harnessFormValues{
		steps:      append([]string(nil), defaults.Steps...),
		watchdog:   defaults.Watchdog.String(),
		startDelay: defaults.StartDelay.String(),
		probe:      defaults.Probe,
		confirm:    true,
	}
}

func stepOptions(selected []string) []huh.Option[string] {
	chosen := make(map[string]bool, len(selected))
	for _, s := range selected {
		chosen[s] = true
	}
	opts := make([]huh.Option[string], 0, len(diag.Opcodes))
	for _, op := range diag.Opcodes {
		key := strings.ToLower(op.String())
		opts = append(opts, huh.NewOption(op.String(), key).Selected(chosen[key]))
	}
	return opts
}

func buildHarnessForm(v *harnessFormValues) *huh.Form {
	stepsGroup := huh.NewGroup(
		huh.NewMultiSelect[string]().
			Title("Diagnostic steps").
			Description("Steps run in the listed order; one request is outstanding at a time.").
			Key("steps").
			Options(stepOptions(v.steps)...).
			Validate(validateSteps).
			Value(&v.steps),
	)

	timingGroup := huh.NewGroup(
		huh.NewInput().
			Title("Watchdog").
			Description("Deadline for the whole run (e.g. 10s). 0 disables it.").
			Key("watchdog").
			Validate(validateDuration).
			Value(&v.watchdog),
		huh.NewInput().
			Title("Start delay").
			Description("Wait before the first request; frames seen meanwhile are discarded.").
			Key("start_delay").
			Validate(validateDuration).
			Value(&v.startDelay),
	)

	probeGroup := huh.NewGroup(
		huh.NewInput().
			Title("MEM_READ probe").
			Description("Bytes the device must echo back.").
			Key("probe").
			Validate(validateProbe).
			Value(&v.probe),
	).WithHideFunc(func() bool { return !contains(v.steps, "mem_read") })

	confirmGroup := huh.NewGroup(
		huh.NewConfirm().
			Title("Start the run?").
			Affirmative("Run").
			Negative("Cancel").
			Value(&v.confirm),
	)

	return huh.NewForm(stepsGroup, timingGroup, probeGroup, confirmGroup)
}

// choices converts the edited values back.
func (v *harnessFormValues) choices() (HarnessChoices, error) {
	if err := validateSteps(v.steps); err != nil {
		return HarnessChoices{}, err
	}
	watchdog, err := time.ParseDuration(strings.TrimSpace(v.watchdog))
	if err != nil {
		return HarnessChoices{}, fmt.Errorf("watchdog: %w", err)
	}
	delay, err := time.ParseDuration(strings.TrimSpace(v.startDelay))
	if err != nil {
		return HarnessChoices{}, fmt.Errorf("start delay: %w", err)
	}
	return HarnessChoices{
		Steps:      orderSteps(v.steps),
		Watchdog:   watchdog,
		StartDelay: delay,
		Probe:      v.probe,
	}, nil
}

// orderSteps returns the selected steps in protocol order.
func orderSteps(selected []string) []string {
	out := make([]string, 0, len(selected))
	for _, op := range diag.Opcodes {
		key := strings.ToLower(op.String())
		if contains(selected, key) {
			out = append(out, key)
		}
	}
	return out
}

func validateSteps(steps []string) error {
	if len(steps) == 0 {
		return fmt.Errorf("select at least one step")
	}
	for _, s := range steps {
		if _, err := diag.ParseOpcode(s); err != nil {
			return err
		}
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not a duration: %q", s)
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateProbe(s string) error {
	if s == "" {
		return fmt.Errorf("probe must not be empty")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ErrFormCancelled is returned when the operator declines to start the run.
var ErrFormCancelled = errors.New("harness run cancelled")

// RunHarnessForm asks the operator to adjust defaults before a run.
func RunHarnessForm(defaults HarnessChoices) (HarnessChoices, error) {
	v := newHarnessFormValues(defaults)
	if err := buildHarnessForm(v).Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return HarnessChoices{}, ErrFormCancelled
		}
		return HarnessChoices{}, fmt.Errorf("harness form: %w", err)
	}
	if !v.confirm {
		return HarnessChoices{}, ErrFormCancelled
	}
	return v.choices()
}
