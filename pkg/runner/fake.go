package runner

import (
	"context"
	"fmt"
	"strings"
)

// FakeResponse is the canned outcome of one command
type FakeResponse struct {
	Output   string
	ExitCode int
	Err      error // returned as is, takes precedence over ExitCode
}

// FakeRunner replays canned responses keyed by the space-joined command line
type FakeRunner struct {
	Responses map[string]FakeResponse
	Calls     [][]string
}

// NewFakeRunner creates a fake runner without responses
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Responses: map[string]FakeResponse{}}
}

// Set registers the response for args
func (f *FakeRunner) Set(args []string, response FakeResponse) {
	f.Responses[strings.Join(args, " ")] = response
}

// Run returns the registered response for args
func (f *FakeRunner) Run(ctx context.Context, args []string) (*Result, error) {
	f.Calls = append(f.Calls, args)

	response, ok := f.Responses[strings.Join(args, " ")]
	if !ok {
		return nil, fmt.Errorf("unexpected command: %v", args)
	}
	if response.Err != nil {
		return nil, response.Err
	}

	result := &Result{Args: args, Output: response.Output, ExitCode: response.ExitCode}
	if response.ExitCode != 0 {
		return result, &ProcessError{
			Args:     args,
			ExitCode: response.ExitCode,
			Output:   response.Output,
			Err:      fmt.Errorf("exit status %d", response.ExitCode),
		}
	}

	return result, nil
}
