package core

import (
	"encoding/json"
	"fmt"
)

// InstanceState is the externally visible lifecycle state of an instance.
// Instances only ever transition Running -> Completed or Running -> Failed;
// the terminal states are absorbing.
type InstanceState int

const (
	InstanceStateRunning InstanceState = iota
	InstanceStateCompleted
	InstanceStateFailed
)

func (s InstanceState) Finished() bool {
	return s == InstanceStateCompleted || s == InstanceStateFailed
}

func (s InstanceState) String() string {
	switch s {
	case InstanceStateRunning:
		return "Running"
	case InstanceStateCompleted:
		return "Completed"
	case InstanceStateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

func (s InstanceState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *InstanceState) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch v {
	case "Running":
		*s = InstanceStateRunning
	case "Completed":
		*s = InstanceStateCompleted
	case "Failed":
		*s = InstanceStateFailed
	default:
		return fmt.Errorf("unknown instance state %q", v)
	}

	return nil
}
