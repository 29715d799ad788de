package api

// MessageType дискриминатор сообщения протокола DataGate
type MessageType string

// Закрытый набор типов сообщений
const (
	MessageTypeConnect             MessageType = "Connect"
	MessageTypeConnectAck          MessageType = "ConnectAck"
	MessageTypeDisconnect          MessageType = "Disconnect"
	MessageTypeBatchChangeStart    MessageType = "BatchChangeStart"
	MessageTypeBatchChangeContinue MessageType = "BatchChangeContinue"
	MessageTypeBatchChangeEnd      MessageType = "BatchChangeEnd"
	MessageTypeBatchAck            MessageType = "BatchAck"
	MessageTypeBatchEndAck         MessageType = "BatchEndAck"
	MessageTypeDataGateFeed        MessageType = "DataGateFeed"
	MessageTypeDataGateFeedAck     MessageType = "DataGateFeedAck"
	MessageTypeError               MessageType = "Error"
)

// MessageTypes lists every known message type.
var MessageTypes = []MessageType{
	MessageTypeConnect,
	MessageTypeConnectAck,
	MessageTypeDisconnect,
	MessageTypeBatchChangeStart,
	MessageTypeBatchChangeContinue,
	MessageTypeBatchChangeEnd,
	MessageTypeBatchAck,
	MessageTypeBatchEndAck,
	MessageTypeDataGateFeed,
	MessageTypeDataGateFeedAck,
	MessageTypeError,
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	for _, known := range MessageTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MessageHeader заголовок, присутствующий в каждом сообщении
type MessageHeader struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transactionId"`
	Collection    string      `json:"collection"`
	MessageType   MessageType `json:"messageType"`
	Origin        string      `json:"origin"` // Origin replica id отправителя
	UserName      string      `json:"userName"`
	Tenant        string      `json:"tenant"`
	Timestamp     int64       `json:"timestamp"` // Timestamp время создания в миллисекундах
}

// DataGateMessage - общий интерфейс всех сообщений протокола.
// Набор реализаций закрыт: isDataGateMessage не экспортируется.
// GetHeader возвращает nil для nil-сообщения.
type DataGateMessage interface {
	GetHeader() *MessageHeader
	isDataGateMessage()
}

// Connect открывает сессию репликации
type Connect struct {
	Header    *MessageHeader `json:"header"`
	AuthToken string         `json:"authToken"`
}

// ConnectAck подтверждает сессию. TombstoneTTL - время жизни tombstone в миллисекундах (0 - без сборки мусора).
type ConnectAck struct {
	Header       *MessageHeader `json:"header"`
	TombstoneTTL int64          `json:"tombstoneTtl,omitempty"`
}

// Disconnect закрывает сессию
type Disconnect struct {
	Header *MessageHeader `json:"header"`
}

// BatchChangeStart первая страница прохода
type BatchChangeStart struct {
	Header    *MessageHeader `json:"header"`
	Feed      DeltaStates    `json:"feed"`
	BatchSize int            `json:"batchSize"`
	StartTime int64          `json:"startTime"`
	EndTime   int64          `json:"endTime"`
}

// BatchChangeContinue последующая страница прохода
type BatchChangeContinue struct {
	Header    *MessageHeader `json:"header"`
	Feed      DeltaStates    `json:"feed"`
	BatchSize int            `json:"batchSize"`
	StartTime int64          `json:"startTime"`
	EndTime   int64          `json:"endTime"`
}

// BatchChangeEnd завершает проход. LastSynced - отметка времени пира,
// до которой изменения пира уже получены.
type BatchChangeEnd struct {
	Header     *MessageHeader `json:"header"`
	BatchSize  int            `json:"batchSize"`
	StartTime  int64          `json:"startTime"`
	EndTime    int64          `json:"endTime"`
	LastSynced int64          `json:"lastSynced"`
}

// BatchAck подтверждает страницу прохода
type BatchAck struct {
	Header  *MessageHeader `json:"header"`
	Receipt Receipt        `json:"receipt"`
}

// BatchEndAck подтверждает завершение прохода
type BatchEndAck struct {
	Header *MessageHeader `json:"header"`
}

// DataGateFeed изменение в реальном времени после завершения прохода
type DataGateFeed struct {
	Header *MessageHeader `json:"header"`
	Feed   DeltaStates    `json:"feed"`
}

// DataGateFeedAck подтверждает DataGateFeed
type DataGateFeedAck struct {
	Header  *MessageHeader `json:"header"`
	Receipt Receipt        `json:"receipt"`
}

// Error сообщение об ошибке от пира
type Error struct {
	Header *MessageHeader `json:"header"`
	Reason string         `json:"reason"`
}

func (m *Connect) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *ConnectAck) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *Disconnect) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *BatchChangeStart) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *BatchChangeContinue) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *BatchChangeEnd) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *BatchAck) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *BatchEndAck) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *DataGateFeed) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *DataGateFeedAck) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}
func (m *Error) GetHeader() *MessageHeader {
	if m == nil {
		return nil
	}
	return m.Header
}

func (*Connect) isDataGateMessage()             {}
func (*ConnectAck) isDataGateMessage()          {}
func (*Disconnect) isDataGateMessage()          {}
func (*BatchChangeStart) isDataGateMessage()    {}
func (*BatchChangeContinue) isDataGateMessage() {}
func (*BatchChangeEnd) isDataGateMessage()      {}
func (*BatchAck) isDataGateMessage()            {}
func (*BatchEndAck) isDataGateMessage()         {}
func (*DataGateFeed) isDataGateMessage()        {}
func (*DataGateFeedAck) isDataGateMessage()     {}
func (*Error) isDataGateMessage()               {}
