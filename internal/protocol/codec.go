package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

// Codec переводит сообщения в JSON и обратно
type Codec struct{}

// envelope содержит только дискриминатор
type envelope struct {
	Header *struct {
		MessageType api.MessageType `json:"messageType"`
	} `json:"header"`
}

// Decode сначала читает header.messageType, затем декодирует соответствующий вариант.
// Неизвестный или отсутствующий тип - ошибка, варианта по умолчанию нет.
func (Codec) Decode(data []byte) (api.DataGateMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, syncerr.Protocol("decode", err)
	}
	if env.Header == nil {
		return nil, syncerr.Protocolf("message header is missing")
	}
	if env.Header.MessageType == "" {
		return nil, syncerr.Protocolf("message type is missing")
	}

	msg, ok := newMessage(env.Header.MessageType)
	if !ok {
		return nil, syncerr.Protocolf("unknown message type %q", env.Header.MessageType)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, syncerr.Protocol(fmt.Sprintf("decode %s", env.Header.MessageType), err)
	}

	return msg, nil
}

// Encode сериализует сообщение
func (Codec) Encode(msg api.DataGateMessage) ([]byte, error) {
	if msg == nil || msg.GetHeader() == nil {
		return nil, syncerr.Protocolf("cannot encode message without header")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, syncerr.Protocol(fmt.Sprintf("encode %s", msg.GetHeader().MessageType), err)
	}
	return data, nil
}

func newMessage(messageType api.MessageType) (api.DataGateMessage, bool) {
	switch messageType {
	case api.MessageTypeConnect:
		return &api.Connect{}, true
	case api.MessageTypeConnectAck:
		return &api.ConnectAck{}, true
	case api.MessageTypeDisconnect:
		return &api.Disconnect{}, true
	case api.MessageTypeBatchChangeStart:
		return &api.BatchChangeStart{}, true
	case api.MessageTypeBatchChangeContinue:
		return &api.BatchChangeContinue{}, true
	case api.MessageTypeBatchChangeEnd:
		return &api.BatchChangeEnd{}, true
	case api.MessageTypeBatchAck:
		return &api.BatchAck{}, true
	case api.MessageTypeBatchEndAck:
		return &api.BatchEndAck{}, true
	case api.MessageTypeDataGateFeed:
		return &api.DataGateFeed{}, true
	case api.MessageTypeDataGateFeedAck:
		return &api.DataGateFeedAck{}, true
	case api.MessageTypeError:
		return &api.Error{}, true
	}
	return nil, false
}
