/*
 * Copyright 2024- corefs authors
 * SPDX-License-Identifier: Apache-2.0
 */
package metaserver

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// gobCodec replaces grpc's default "proto" codec for this process. corefs
// never runs protoc, so its RPC structs aren't real protobuf messages;
// registering under the "proto" name is the standard way to swap a grpc
// wire codec without touching client/server call sites, and this service
// is the only grpc user in the process so there is no real protobuf
// traffic to collide with.
type gobCodec struct{}

func init() {
	encoding.RegisterCodec(gobCodec{})
}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return "proto" }
