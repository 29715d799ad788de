package models

import "github.com/iudanet/docsync/pkg/api"

// ChangeType тип изменения коллекции
type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeRemove ChangeType = "remove"
)

// SourceReplicator помечает изменения, внесенные самим движком репликации.
// Такие изменения не отправляются обратно пиру.
const SourceReplicator = "replicator"

// ChangeEvent уведомление об изменении документа в локальной коллекции
type ChangeEvent struct {
	Document  *api.Document
	Type      ChangeType
	Source    string // Source кто внес изменение (SourceReplicator или пусто для пользователя)
	Timestamp int64  // Timestamp время изменения; для remove - время удаления
}

// FromReplicator reports whether the change was written by the replication engine.
func (e ChangeEvent) FromReplicator() bool {
	return e.Source == SourceReplicator
}
