package fallback

import (
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes summaries for the blob store.
type Codec interface {
	// Encode serializes a summary to bytes.
	Encode(s *Summary) ([]byte, error)

	// Decode deserializes bytes into a summary.
	Decode(data []byte) (*Summary, error)

	// Name returns the codec identifier.
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Defaults to JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return MsgpackCodec{}
	default:
		return JSONCodec{}
	}
}

// JSONCodec encodes summaries as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(s *Summary) ([]byte, error) { return json.Marshal(s) }

func (JSONCodec) Decode(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes summaries as MessagePack.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(s *Summary) ([]byte, error) { return msgpack.Marshal(s) }

func (MsgpackCodec) Decode(data []byte) (*Summary, error) {
	var s Summary
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }
