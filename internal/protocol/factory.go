// Package protocol строит, проверяет и (де)сериализует сообщения протокола DataGate.
package protocol

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/iudanet/docsync/pkg/api"
)

// Identity описывает отправителя, которым подписываются заголовки
type Identity struct {
	Collection string
	ReplicaID  string
	UserName   string
	Tenant     string
}

// Factory создает сообщения со свежим заголовком
type Factory struct {
	now   func() time.Time
	newID func() string
	id    Identity
}

// NewFactory создает фабрику сообщений отправителя
func NewFactory(id Identity) *Factory {
	return &Factory{
		id:    id,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewTransactionID возвращает идентификатор прохода синхронизации.
// ULID упорядочены по времени создания, поэтому проходы сортируются в логах.
func NewTransactionID() string {
	return ulid.Make().String()
}

// Identity возвращает отправителя фабрики
func (f *Factory) Identity() Identity {
	return f.id
}

func (f *Factory) header(messageType api.MessageType, transactionID string) *api.MessageHeader {
	return &api.MessageHeader{
		ID:            f.newID(),
		TransactionID: transactionID,
		Collection:    f.id.Collection,
		MessageType:   messageType,
		Origin:        f.id.ReplicaID,
		UserName:      f.id.UserName,
		Tenant:        f.id.Tenant,
		Timestamp:     f.now().UnixMilli(),
	}
}

func (f *Factory) Connect(authToken string) *api.Connect {
	return &api.Connect{
		Header:    f.header(api.MessageTypeConnect, ""),
		AuthToken: authToken,
	}
}

func (f *Factory) ConnectAck(transactionID string, tombstoneTTL int64) *api.ConnectAck {
	return &api.ConnectAck{
		Header:       f.header(api.MessageTypeConnectAck, transactionID),
		TombstoneTTL: tombstoneTTL,
	}
}

func (f *Factory) Disconnect() *api.Disconnect {
	return &api.Disconnect{Header: f.header(api.MessageTypeDisconnect, "")}
}

func (f *Factory) BatchChangeStart(transactionID string, feed api.DeltaStates, batchSize int, startTime, endTime int64) *api.BatchChangeStart {
	return &api.BatchChangeStart{
		Header:    f.header(api.MessageTypeBatchChangeStart, transactionID),
		Feed:      feed,
		BatchSize: batchSize,
		StartTime: startTime,
		EndTime:   endTime,
	}
}

func (f *Factory) BatchChangeContinue(transactionID string, feed api.DeltaStates, batchSize int, startTime, endTime int64) *api.BatchChangeContinue {
	return &api.BatchChangeContinue{
		Header:    f.header(api.MessageTypeBatchChangeContinue, transactionID),
		Feed:      feed,
		BatchSize: batchSize,
		StartTime: startTime,
		EndTime:   endTime,
	}
}

func (f *Factory) BatchChangeEnd(transactionID string, batchSize int, startTime, endTime, lastSynced int64) *api.BatchChangeEnd {
	return &api.BatchChangeEnd{
		Header:     f.header(api.MessageTypeBatchChangeEnd, transactionID),
		BatchSize:  batchSize,
		StartTime:  startTime,
		EndTime:    endTime,
		LastSynced: lastSynced,
	}
}

func (f *Factory) BatchAck(transactionID string, receipt api.Receipt) *api.BatchAck {
	return &api.BatchAck{
		Header:  f.header(api.MessageTypeBatchAck, transactionID),
		Receipt: receipt,
	}
}

func (f *Factory) BatchEndAck(transactionID string) *api.BatchEndAck {
	return &api.BatchEndAck{Header: f.header(api.MessageTypeBatchEndAck, transactionID)}
}

func (f *Factory) DataGateFeed(transactionID string, feed api.DeltaStates) *api.DataGateFeed {
	return &api.DataGateFeed{
		Header: f.header(api.MessageTypeDataGateFeed, transactionID),
		Feed:   feed,
	}
}

func (f *Factory) DataGateFeedAck(transactionID string, receipt api.Receipt) *api.DataGateFeedAck {
	return &api.DataGateFeedAck{
		Header:  f.header(api.MessageTypeDataGateFeedAck, transactionID),
		Receipt: receipt,
	}
}

func (f *Factory) Error(transactionID, reason string) *api.Error {
	return &api.Error{
		Header: f.header(api.MessageTypeError, transactionID),
		Reason: reason,
	}
}
