package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iudanet/docsync/internal/syncerr"
	"github.com/iudanet/docsync/pkg/api"
)

func TestValidate(t *testing.T) {
	var nilAck *api.BatchAck

	tests := []struct {
		msg     api.DataGateMessage
		name    string
		wantErr string
	}{
		{name: "valid", msg: &api.BatchEndAck{Header: &api.MessageHeader{MessageType: api.MessageTypeBatchEndAck, Collection: "notes"}}},
		{name: "nil message", msg: nil, wantErr: "message is nil"},
		{name: "typed nil message", msg: nilAck, wantErr: "header is missing"},
		{name: "missing header", msg: &api.Disconnect{}, wantErr: "header is missing"},
		{name: "missing type", msg: &api.Disconnect{Header: &api.MessageHeader{Collection: "notes"}}, wantErr: "type is missing"},
		{name: "unknown type", msg: &api.Disconnect{Header: &api.MessageHeader{MessageType: "Ping", Collection: "notes"}}, wantErr: "unknown message type"},
		{name: "missing collection", msg: &api.Disconnect{Header: &api.MessageHeader{MessageType: api.MessageTypeDisconnect}}, wantErr: "collection name is missing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.msg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
			assert.True(t, syncerr.IsFatal(err))
		})
	}
}
