package cmd

import (
	"errors"
	"strconv"

	"github.com/charmbracelet/huh"
)

// runWithHelp wraps huh fields in a form with help hints at the bottom.
func runWithHelp(fields ...huh.Field) error {
	return huh.NewForm(huh.NewGroup(fields...)).WithShowHelp(true).Run()
}

// promptString asks for one line of text. Enter on an empty input returns
// defaultVal. check, if given, is validated inline before the form closes.
func promptString(title, description, defaultVal string, check ...func(string) error) (string, error) {
	var value string
	inp := huh.NewInput().Title(title).Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if defaultVal != "" {
		inp = inp.Placeholder(defaultVal)
	}
	if len(check) > 0 {
		inp = inp.Validate(func(s string) error {
			if s == "" && defaultVal != "" {
				s = defaultVal
			}
			return check[0](s)
		})
	}
	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	if value == "" {
		return defaultVal, nil
	}
	return value, nil
}

// promptInt is promptString restricted to non-negative integers.
func promptInt(title, description string, current int) (int, error) {
	s, err := promptString(title, description, strconv.Itoa(current), func(s string) error {
		if n, err := strconv.Atoi(s); err != nil || n < 0 {
			return errors.New("enter a whole number")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}

// promptPassword reads a secret without echo.
func promptPassword(title, description string) (string, error) {
	var value string
	inp := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if description != "" {
		inp = inp.Description(description)
	}
	if err := runWithHelp(inp); err != nil {
		return "", err
	}
	return value, nil
}

// SelectOption is one choice of promptSelect.
type SelectOption[T any] struct {
	Label string
	Value T
}

// promptSelect shows a single-select list and returns the chosen value.
func promptSelect[T comparable](title string, options []SelectOption[T], defaultIdx int) (T, error) {
	var value T
	opts := make([]huh.Option[T], len(options))
	for i, o := range options {
		opts[i] = huh.NewOption(o.Label, o.Value).Selected(i == defaultIdx)
	}
	sel := huh.NewSelect[T]().Title(title).Options(opts...).Value(&value)
	if err := runWithHelp(sel); err != nil {
		var zero T
		return zero, err
	}
	return value, nil
}

// promptConfirm asks a yes/no question.
func promptConfirm(title string, defaultYes bool) (bool, error) {
	value := defaultYes
	c := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&value)
	if err := runWithHelp(c); err != nil {
		return false, err
	}
	return value, nil
}
