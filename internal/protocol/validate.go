package protocol

import (
	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

// Validate проверяет обязательные поля входящего сообщения.
// Любое нарушение - фатальная ошибка протокола.
func Validate(msg api.DataGateMessage) error {
	if msg == nil {
		return syncerr.Protocolf("message is nil")
	}

	header := msg.GetHeader()
	switch {
	case header == nil:
		return syncerr.Protocolf("message header is missing")
	case header.MessageType == "":
		return syncerr.Protocolf("message type is missing")
	case !header.MessageType.Valid():
		return syncerr.Protocolf("unknown message type %q", header.MessageType)
	case header.Collection == "":
		return syncerr.Protocolf("collection name is missing in %s", header.MessageType)
	}

	return nil
}
