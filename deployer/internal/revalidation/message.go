// Package revalidation carries regeneration requests from the server unit to
// the consumer that rebuilds cached pages, in order per grouping key.
package revalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ILLUVRSE/sitedeploy/deployer/internal/hasher"
)

var (
	// ErrInvalidReceipt is returned for unknown, deleted or expired receipts.
	ErrInvalidReceipt = errors.New("invalid receipt handle")
	// ErrClosed is returned by operations on a closed queue.
	ErrClosed = errors.New("queue closed")
)

// Message asks for one cached path to be regenerated.
type Message struct {
	Key         string `json:"key"`
	GroupingKey string `json:"groupingKey,omitempty"`
	Host        string `json:"host"`
}

// Group is the ordering key; it defaults to Key.
func (m Message) Group() string {
	if m.GroupingKey != "" {
		return m.GroupingKey
	}
	return m.Key
}

func (m Message) Validate() error {
	if !strings.HasPrefix(m.Key, "/") {
		return fmt.Errorf("message key %q must be an absolute path", m.Key)
	}
	if m.Host == "" {
		return fmt.Errorf("message for %s has no host", m.Key)
	}
	return nil
}

// DedupID is derived from the message content, so identical requests collapse
// inside a deduplication window.
func (m Message) DedupID() string {
	b, _ := json.Marshal(m)
	return hasher.Hash(b)
}

// Delivery is a received message together with the handle that acknowledges it.
type Delivery struct {
	Message
	Receipt      string
	ReceiveCount int
}

func encodeMessage(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}

func decodeMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return m, nil
}
