package revalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/compute"
	"github.com/ILLUVRSE/sitedeploy/deployer/internal/resource"
)

const (
	DefaultBatchSize   = 5
	DefaultReceiveWait = 20 * time.Second
	DefaultVisibility  = 30 * time.Second
	DefaultDedupWindow = 5 * time.Minute
	maxPlatformBatch   = 10
)

// EventSource wires the queue to the consumer unit.
type EventSource struct {
	Queue        resource.Ref `json:"queue"`
	FunctionName string       `json:"functionName"`
	BatchSize    int          `json:"batchSize"`
}

// Spec is the desired state of the revalidation pipeline.
type Spec struct {
	QueueID                   string      `json:"queueId"`
	QueueName                 string      `json:"queueName"`
	FIFO                      bool        `json:"fifo"`
	ContentBasedDeduplication bool        `json:"contentBasedDeduplication"`
	ReceiveWaitSeconds        int         `json:"receiveWaitSeconds"`
	VisibilityTimeoutSeconds  int         `json:"visibilityTimeoutSeconds"`
	EventSource               EventSource `json:"eventSource"`

	consumerTimeout time.Duration
}

// Pipeline describes the FIFO queue and the event source that invokes the
// consumer unit in batches.
func Pipeline(n resource.Names, consumer compute.Unit) Spec {
	visibility := DefaultVisibility
	if consumer.Timeout > visibility {
		visibility = consumer.Timeout
	}
	return Spec{
		QueueID:                   n.QueueID(),
		QueueName:                 n.QueueName(),
		FIFO:                      true,
		ContentBasedDeduplication: true,
		ReceiveWaitSeconds:        int(DefaultReceiveWait / time.Second),
		VisibilityTimeoutSeconds:  int(visibility / time.Second),
		EventSource: EventSource{
			Queue:        resource.Ref{Resource: n.QueueID(), Attribute: resource.AttrARN},
			FunctionName: consumer.FunctionName,
			BatchSize:    DefaultBatchSize,
		},
		consumerTimeout: consumer.Timeout,
	}
}

// VisibilityTimeout is the queue's visibility timeout.
func (s Spec) VisibilityTimeout() time.Duration {
	return time.Duration(s.VisibilityTimeoutSeconds) * time.Second
}

func (s Spec) Validate() error {
	if !s.FIFO || !strings.HasSuffix(s.QueueName, ".fifo") {
		return fmt.Errorf("revalidation queue %q must be FIFO", s.QueueName)
	}
	if s.EventSource.FunctionName == "" {
		return fmt.Errorf("revalidation event source has no consumer")
	}
	if s.EventSource.BatchSize < 1 || s.EventSource.BatchSize > maxPlatformBatch {
		return fmt.Errorf("revalidation batch size %d out of range", s.EventSource.BatchSize)
	}
	if s.VisibilityTimeout() < s.consumerTimeout {
		return fmt.Errorf("visibility timeout %s shorter than consumer timeout %s", s.VisibilityTimeout(), s.consumerTimeout)
	}
	return nil
}
