package templates

import (
	"errors"

	"github.com/charmbracelet/huh"
)

// HuhPrompter asks on the terminal with a huh input field.
type HuhPrompter struct {
	Accessible bool
}

func (p HuhPrompter) Prompt(question string) (string, error) {
	var value string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(question).
				Value(&value).
				Validate(func(s string) error {
					if s == "" {
						return errors.New("a value is required")
					}
					return nil
				}),
		),
	).WithAccessible(p.Accessible)
	if err := form.Run(); err != nil {
		return "", err
	}
	return value, nil
}

// MapPrompter answers from a fixed map; used by the web API where the
// client sends every answer up front.
type MapPrompter map[string]string

func (m MapPrompter) Prompt(question string) (string, error) {
	if v, ok := m[question]; ok {
		return v, nil
	}
	return "", errors.New("no answer supplied")
}
