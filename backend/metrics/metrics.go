package metrics

import "time"

type Tags map[string]string

type Client interface {
	Counter(name string, tags Tags, value float64)

	Distribution(name string, tags Tags, value float64)

	Timing(name string, tags Tags, duration time.Duration)

	WithTags(tags Tags) Client
}

// NewNoopClient returns a metrics client which discards all measurements.
func NewNoopClient() Client {
	return &noopClient{}
}

type noopClient struct{}

var _ Client = (*noopClient)(nil)

func (*noopClient) Counter(string, Tags, float64) {}

func (*noopClient) Distribution(string, Tags, float64) {}

func (*noopClient) Timing(string, Tags, time.Duration) {}

func (nc *noopClient) WithTags(Tags) Client { return nc }
