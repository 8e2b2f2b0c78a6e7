package history

import (
	"encoding/json"
	"fmt"

	"github.com/learn-automated-testing/invoiceflow/backend/payload"
)

func SerializeAttributes(attributes any) (payload.Payload, error) {
	return json.Marshal(attributes)
}

func DeserializeAttributes(eventType EventType, attributes payload.Payload) (attr any, err error) {
	switch eventType {
	case EventType_ActivityScheduled:
		attr = &ActivityScheduledAttributes{}
	case EventType_ActivityCompleted:
		attr = &ActivityCompletedAttributes{}
	case EventType_ActivityFailed:
		attr = &ActivityFailedAttributes{}
	case EventType_OrchestratorCompleted:
		attr = &OrchestratorCompletedAttributes{}
	default:
		return nil, fmt.Errorf("unknown event type when deserializing attributes: %v", eventType)
	}

	if err := json.Unmarshal(attributes, &attr); err != nil {
		return nil, fmt.Errorf("deserializing attributes for event type %v: %w", eventType, err)
	}

	return attr, nil
}
