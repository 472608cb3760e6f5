package docsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// replicated keys are namespaced by class
const (
	DataKeySuffix  = "_wff_data"
	TokenKeySuffix = "_wff_token"
)

type StorageClass int

const (
	StorageData StorageClass = iota
	StorageToken
)

func (self StorageClass) suffix() string {
	switch self {
	case StorageToken:
		return TokenKeySuffix
	default:
		return DataKeySuffix
	}
}

func (self StorageClass) String() string {
	switch self {
	case StorageToken:
		return "token"
	default:
		return "data"
	}
}

func (self StorageClass) Key(key string) string {
	return key + self.suffix()
}

// SplitStorageKey returns the replicated key and its class for a storage slot name.
func SplitStorageKey(slot string) (key string, class StorageClass, ok bool) {
	if key, ok = strings.CutSuffix(slot, TokenKeySuffix); ok {
		class = StorageToken
		return
	}
	if key, ok = strings.CutSuffix(slot, DataKeySuffix); ok {
		class = StorageData
		return
	}
	return
}

var ErrStorageCorruption = errors.New("Storage record is corrupt.")

// StorageRecord is the persisted form of one replicated key.
// Data records never carry a node id. Token records always do.
type StorageRecord struct {
	Value     string `json:"v"`
	WriteTime int64  `json:"wt,string"`
	Id        int64  `json:"id"`
	NodeId    string `json:"nid,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}

// Supersedes reports whether a write `(writeTime, id)` applies over this record.
// The later write wins. Equal times are ordered by id. An exact tie never applies.
func (self *StorageRecord) Supersedes(writeTime int64, id int64) bool {
	if self == nil {
		return true
	}
	return self.WriteTime < writeTime || (self.WriteTime == writeTime && self.Id < id)
}

func (self *StorageRecord) Json() string {
	b, err := json.Marshal(self)
	if err != nil {
		panic(err)
	}
	return string(b)
}

const storageRecordSchemaJson = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["wt", "id"],
	"properties": {
		"v": {"type": "string"},
		"wt": {"type": "string", "pattern": "^-?[0-9]+$"},
		"id": {"type": "integer"},
		"nid": {"type": "string"},
		"removed": {"type": "boolean"}
	}
}`

var storageRecordSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(storageRecordSchemaJson))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("storage_record.json", doc); err != nil {
		return nil, err
	}
	return compiler.Compile("storage_record.json")
})

// ParseStorageRecord validates and parses a persisted record.
// Any failure wraps `ErrStorageCorruption`.
func ParseStorageRecord(s string) (*StorageRecord, error) {
	schema, err := storageRecordSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("%w %s", ErrStorageCorruption, err)
	}
	if err := schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("%w %s", ErrStorageCorruption, err)
	}
	var record StorageRecord
	if err := json.Unmarshal([]byte(s), &record); err != nil {
		return nil, fmt.Errorf("%w %s", ErrStorageCorruption, err)
	}
	return &record, nil
}
