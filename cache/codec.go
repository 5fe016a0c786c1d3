package cache

import (
	"github.com/goliatone/go-record-service/record"
	"github.com/vmihailenco/msgpack/v5"
)

func encodeView(v record.View) ([]byte, error) {
	return msgpack.Marshal(&v)
}

func decodeView(data []byte) (record.View, error) {
	var v record.View
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return record.View{}, err
	}
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return v, nil
}
