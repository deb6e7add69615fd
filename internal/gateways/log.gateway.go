package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nimasrn/mail-tracker/pkg/logger"
)

// LogTransport only logs the message; used for local runs.
type LogTransport struct{}

func NewLogTransport() *LogTransport {
	return &LogTransport{}
}

func (t *LogTransport) Name() string {
	return DriverLog
}

func (t *LogTransport) Send(ctx context.Context, msg *Email) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", transportError(DriverLog, err)
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain(msg.From))
	logger.Info("mail logged instead of sent",
		"to", msg.To,
		"subject", msg.Subject,
		"tracking_id", msg.TrackingID,
		"message_id", id,
		"bytes", len(msg.HTML))
	return id, nil
}
