package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldError is one invalid setting, addressed by its path in the config
// file, for example "targets[2].address".
type FieldError struct {
	Path    string
	Message string
	Cause   error
}

func (e FieldError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

func (e FieldError) Unwrap() error {
	return e.Cause
}

// ValidationErrors collects every invalid setting so one load reports all
// of them before any host is contacted.
type ValidationErrors struct {
	Errors []FieldError
}

// Check records message at path unless ok holds.
func (v *ValidationErrors) Check(ok bool, path, message string) {
	if ok {
		return
	}
	v.Errors = append(v.Errors, FieldError{Path: path, Message: message})
}

// Add records err at path. Errors from a nested Validate are re-rooted
// under path, so a target's "address" becomes "targets[1].address".
func (v *ValidationErrors) Add(path string, err error) {
	if err == nil {
		return
	}
	if nested, ok := err.(*ValidationErrors); ok {
		for _, fe := range nested.Errors {
			fe.Path = JoinPath(path, fe.Path)
			v.Errors = append(v.Errors, fe)
		}
		return
	}
	v.Errors = append(v.Errors, FieldError{Path: path, Message: err.Error(), Cause: err})
}

// Err returns v as an error, or nil when nothing was recorded.
func (v *ValidationErrors) Err() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d invalid settings", len(v.Errors))
	for _, fe := range v.Errors {
		b.WriteString("; ")
		b.WriteString(fe.Error())
	}
	return b.String()
}

// Unwrap exposes each field error to errors.Is and errors.As.
func (v *ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v.Errors))
	for i, fe := range v.Errors {
		errs[i] = fe
	}
	return errs
}

// Index returns the path of element i of the list at path.
func Index(path string, i int) string {
	return path + "[" + strconv.Itoa(i) + "]"
}

// JoinPath appends child to prefix with a dot, except for index suffixes.
func JoinPath(prefix, child string) string {
	switch {
	case prefix == "":
		return child
	case child == "":
		return prefix
	case strings.HasPrefix(child, "["):
		return prefix + child
	default:
		return prefix + "." + child
	}
}
