package launcher

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// processTree returns the process and all of its descendants, parents before children.
func processTree(pid int) ([]*process.Process, error) {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("finding process %d: %w", pid, err)
	}

	tree := []*process.Process{}
	next := []*process.Process{root}
	for len(next) > 0 {
		current := next[0]
		next = next[1:]
		tree = append(tree, current)

		children, err := current.Children()
		if err != nil {
			// includes process.ErrorNoChildren
			continue
		}
		next = append(next, children...)
	}
	return tree, nil
}

// killProcesses kills procs children first. Processes that are already gone are skipped.
func killProcesses(procs []*process.Process) error {
	var errs []error
	for i := len(procs) - 1; i >= 0; i-- {
		p := procs[i]
		running, err := p.IsRunning()
		if err != nil || !running {
			continue
		}
		if err := p.Kill(); err != nil && !errors.Is(err, process.ErrorProcessNotRunning) {
			errs = append(errs, fmt.Errorf("killing %d: %w", p.Pid, err))
		}
	}
	return errors.Join(errs...)
}

func killTree(pid int) error {
	tree, err := processTree(pid)
	if err != nil {
		return err
	}
	return killProcesses(tree)
}
