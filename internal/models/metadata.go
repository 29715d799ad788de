package models

import "github.com/iudanet/docsync/pkg/api"

// Metadata типизированная запись метаданных реплицируемой коллекции.
// Хранится одним структурированным документом и переживает перезапуск процесса.
type Metadata struct {
	ReplicaID        string      `json:"replicaId"`        // ReplicaID идентификатор реплики, неизменен после назначения
	TombstoneMapName string      `json:"tombstoneMapName"` // TombstoneMapName имя хранилища tombstones
	JournalReceipt   api.Receipt `json:"journalReceipt"`   // JournalReceipt отправленные, но не подтвержденные id
	LastSyncTime     int64       `json:"lastSyncTime"`     // LastSyncTime локальная отметка, до которой изменения доставлены
	RemoteSyncTime   int64       `json:"remoteSyncTime"`   // RemoteSyncTime отметка пира, до которой изменения получены
}

// Markers курсоры прохода синхронизации
type Markers struct {
	LocalNext  int64 `json:"localNext"`
	RemoteNext int64 `json:"remoteNext"`
}

// Markers возвращает курсоры, сохраненные в метаданных
func (m *Metadata) Markers() Markers {
	return Markers{
		LocalNext:  m.LastSyncTime,
		RemoteNext: m.RemoteSyncTime,
	}
}

// Clone создает копию метаданных
func (m *Metadata) Clone() *Metadata {
	clone := *m
	clone.JournalReceipt = api.NewReceipt().Merge(m.JournalReceipt)
	return &clone
}
