// Package email implements the email.list_recent and email.send tools
// against a Transport interface. The actual IMAP/SMTP wiring is an
// external collaborator per the system's scope — this package defines
// only the shape the core consumes from it.
package email

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/quietloop/agentd/internal/toolregistry"
)

// Message is a summary of one received email.
type Message struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
}

// Transport is the external IMAP/SMTP collaborator's interface.
type Transport interface {
	ListRecent(ctx context.Context, n int) ([]Message, error)
	Send(ctx context.Context, to, subject, body string) error
}

var listRecentSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"count": {"type": "integer", "minimum": 1}},
	"required": []
}`)

var sendSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"to": {"type": "string"},
		"subject": {"type": "string"},
		"body": {"type": "string"}
	},
	"required": ["to", "subject", "body"]
}`)

// Register adds email.list_recent and email.send to reg. email.send
// carries requires_write=true, requires_approval=true per the external
// interfaces contract; email.list_recent is read-only.
func Register(reg *toolregistry.Registry, transport Transport) {
	reg.Register(toolregistry.Descriptor{
		Name:            "email.list_recent",
		Description:     "List recently received emails.",
		ParameterSchema: listRecentSchema,
		Handler:         listRecentHandler(transport),
	})
	reg.Register(toolregistry.Descriptor{
		Name:             "email.send",
		Description:      "Send an email.",
		ParameterSchema:  sendSchema,
		RequiresWrite:    true,
		RequiresApproval: true,
		ApprovalSummary:  "Send an email on the user's behalf.",
		Handler:          sendHandler(transport),
	})
}

func listRecentHandler(transport Transport) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		count := 10
		if v, ok := args["count"].(float64); ok && v > 0 {
			count = int(v)
		}
		msgs, err := transport.ListRecent(ctx, count)
		if err != nil {
			return nil, fmt.Errorf("email.list_recent: %w", err)
		}
		return msgs, nil
	}
}

func sendHandler(transport Transport) toolregistry.Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		to, _ := args["to"].(string)
		subject, _ := args["subject"].(string)
		body, _ := args["body"].(string)
		if to == "" || subject == "" {
			return nil, fmt.Errorf("email.send: \"to\" and \"subject\" are required")
		}
		if err := transport.Send(ctx, to, subject, body); err != nil {
			return nil, fmt.Errorf("email.send: %w", err)
		}
		return "sent", nil
	}
}

// NoopTransport is a Transport that refuses every operation; it exists so
// the daemon can register the email tools and advertise them to the model
// even when no real IMAP/SMTP backend has been configured yet.
type NoopTransport struct{}

func (NoopTransport) ListRecent(ctx context.Context, n int) ([]Message, error) {
	return nil, fmt.Errorf("email transport not configured")
}

func (NoopTransport) Send(ctx context.Context, to, subject, body string) error {
	return fmt.Errorf("email transport not configured")
}
