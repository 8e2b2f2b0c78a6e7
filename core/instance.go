package core

// Instance identifies one orchestration instance. Instances are created with
// a fresh id and an empty history; all further progress is recorded as
// history events.
type Instance struct {
	// InstanceID is the ID of the orchestration instance.
	InstanceID string `json:"instance_id,omitempty"`
}

func NewInstance(instanceID string) *Instance {
	return &Instance{
		InstanceID: instanceID,
	}
}
