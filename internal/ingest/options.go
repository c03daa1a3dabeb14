package ingest

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Upload query parameter names.
const (
	ParamStreamName        = "stream_name"
	ParamStreamDescription = "stream_description"
	ParamWidth             = "width"
	ParamHeight            = "height"
)

// Options are the declared properties of an upload. They are immutable for
// the lifetime of a session.
type Options struct {
	Name        string
	Description string
	Width       int
	Height      int
}

// ParseOptions reads upload options from query values. All four parameters
// are required; width and height must be positive integers.
func ParseOptions(values url.Values) (Options, error) {
	var opts Options

	name, err := required(values, ParamStreamName)
	if err != nil {
		return opts, err
	}
	desc, err := required(values, ParamStreamDescription)
	if err != nil {
		return opts, err
	}
	width, err := dimension(values, ParamWidth)
	if err != nil {
		return opts, err
	}
	height, err := dimension(values, ParamHeight)
	if err != nil {
		return opts, err
	}

	return Options{Name: name, Description: desc, Width: width, Height: height}, nil
}

func required(values url.Values, key string) (string, error) {
	if !values.Has(key) {
		return "", newError(KindInput, "parse options", fmt.Errorf("%w: %s", ErrMissingParameter, key))
	}
	v := values.Get(key)
	if key == ParamStreamName && strings.TrimSpace(v) == "" {
		return "", newError(KindInput, "parse options", fmt.Errorf("%w: %s must not be empty", ErrInvalidParameter, key))
	}
	return v, nil
}

func dimension(values url.Values, key string) (int, error) {
	raw, err := required(values, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, newError(KindInput, "parse options", fmt.Errorf("%w: %s=%q", ErrInvalidParameter, key, raw))
	}
	return n, nil
}
