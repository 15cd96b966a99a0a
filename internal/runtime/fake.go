package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Runtime used by tests across the orchestrator so
// the scenarios in the test suite can run without a real compose
// project or container daemon.
type Fake struct {
	mu sync.Mutex

	Running      map[string]bool
	ContainerIDs map[string]string
	ExecResults  map[string]CommandResult
	ExecErrs     map[string]error
	StartErrs    map[string]error
	LogsText     map[string]string

	idSeq int

	StartCalls  []string
	StopCalls   []string
	RemoveCalls []string
	ExecCalls   [][]string
}

// NewFake returns an empty Fake runtime.
func NewFake() *Fake {
	return &Fake{
		Running:      map[string]bool{},
		ContainerIDs: map[string]string{},
		ExecResults:  map[string]CommandResult{},
		ExecErrs:     map[string]error{},
		StartErrs:    map[string]error{},
		LogsText:     map[string]string{},
	}
}

func (f *Fake) Start(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StartCalls = append(f.StartCalls, service)
	if err := f.StartErrs[service]; err != nil {
		return err
	}
	f.Running[service] = true
	if _, ok := f.ContainerIDs[service]; !ok {
		f.idSeq++
		f.ContainerIDs[service] = fmt.Sprintf("container-%s-%d", service, f.idSeq)
	}
	return nil
}

func (f *Fake) Stop(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.StopCalls = append(f.StopCalls, service)
	f.Running[service] = false
	return nil
}

func (f *Fake) Remove(ctx context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RemoveCalls = append(f.RemoveCalls, service)
	f.Running[service] = false
	delete(f.ContainerIDs, service)
	return nil
}

func (f *Fake) IsRunning(ctx context.Context, service string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Running[service], nil
}

func (f *Fake) Inspect(ctx context.Context, containerName string) (Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Inspection{
		Running: f.Running[containerName],
		ID:      f.ContainerIDs[containerName],
	}, nil
}

func (f *Fake) Logs(ctx context.Context, service string, tail int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.LogsText[service], nil
}

func (f *Fake) Exec(ctx context.Context, container string, args []string, timeout time.Duration) (CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ExecCalls = append(f.ExecCalls, append([]string{container}, args...))
	key := container + ":" + joinArgs(args)
	if err, ok := f.ExecErrs[key]; ok && err != nil {
		return CommandResult{}, err
	}
	if res, ok := f.ExecResults[key]; ok {
		return res, nil
	}
	return CommandResult{ExitCode: 0}, nil
}

// SetContainerID assigns a specific container id to a service, bypassing
// the auto-generated sequence (used to simulate a stale id after a
// container recreate).
func (f *Fake) SetContainerID(service, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ContainerIDs[service] = id
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}
