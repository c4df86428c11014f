package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotPointerToStruct = errors.New("config: target must be a pointer to a struct")
)

// MultiError holds every error found while parsing, so a misconfigured
// program reports all problems at once.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}

	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}

	return fmt.Sprintf("%d error(s) occurred:\n- %s",
		len(m.Errors), strings.Join(msgs, "\n- "))
}

// Unwrap lets errors.Is and errors.As see every collected error.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// join flattens nested MultiErrors and drops nils. It returns nil when
// nothing is left.
func join(errs ...error) error {
	var all []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var me *MultiError
		if errors.As(err, &me) {
			all = append(all, me.Errors...)
			continue
		}
		all = append(all, err)
	}
	if len(all) == 0 {
		return nil
	}
	return &MultiError{Errors: all}
}
