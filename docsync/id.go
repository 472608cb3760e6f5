package docsync

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Id names runtime participants: a tab (node id), a page instance (instance id)
// and a storage writer. Ids are ulids, so they sort by create time.
// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

// ParseId accepts the ulid text form and the legacy uuid form.
func ParseId(idStr string) (Id, error) {
	switch len(idStr) {
	case ulid.EncodedSize:
		id, err := ulid.ParseStrict(idStr)
		if err != nil {
			return Id{}, err
		}
		return Id(id), nil
	case 36:
		if strings.Count(idStr, "-") != 4 {
			return Id{}, fmt.Errorf("Bad id %q.", idStr)
		}
		idBytes, err := hex.DecodeString(strings.ReplaceAll(idStr, "-", ""))
		if err != nil || len(idBytes) != 16 {
			return Id{}, fmt.Errorf("Bad id %q.", idStr)
		}
		return Id(idBytes), nil
	default:
		return Id{}, fmt.Errorf("Bad id %q.", idStr)
	}
}

func (self Id) LessThan(b Id) bool {
	return bytes.Compare(self[:], b[:]) < 0
}

// Time is the create time carried in the id.
func (self Id) Time() time.Time {
	return ulid.Time(ulid.ULID(self).Time())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

func (self Id) MarshalText() ([]byte, error) {
	return []byte(self.String()), nil
}

func (self *Id) UnmarshalText(text []byte) error {
	id, err := ParseId(string(text))
	if err != nil {
		return err
	}
	*self = id
	return nil
}
