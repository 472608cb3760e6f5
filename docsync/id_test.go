package docsync

import (
	"encoding/json"
	"flag"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func init() {
	initGlog()
}

func initGlog() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestIdOrder(t *testing.T) {
	a := NewId()
	for i := 0; i < 16*1024; i++ {
		b := NewId()
		assert.Equal(t, a.LessThan(b), true)
		assert.Equal(t, b.LessThan(a), false)
		assert.Equal(t, b.LessThan(b), false)
		// the text form sorts the same way
		assert.Equal(t, a.String() < b.String(), true)
		a = b
	}

	assert.Equal(t, a.Time().Sub(time.Now()) < time.Second, true)
	assert.Equal(t, time.Since(a.Time()) < time.Minute, true)
}

func TestIdParse(t *testing.T) {
	a := NewId()

	b, err := ParseId(a.String())
	assert.Equal(t, err, nil)
	assert.Equal(t, a, b)

	c, err := ParseId("00112233-4455-6677-8899-aabbccddeeff")
	assert.Equal(t, err, nil)
	assert.Equal(t, c[0], byte(0x00))
	assert.Equal(t, c[15], byte(0xff))

	for _, s := range []string{
		"nope",
		"",
		"0011223344556677-8899-aabbccddeeff-",
		"zz112233-4455-6677-8899-aabbccddeeff",
	} {
		_, err = ParseId(s)
		assert.NotEqual(t, err, nil)
	}
}

func TestIdJson(t *testing.T) {
	type Record struct {
		A Id  `json:"a"`
		B *Id `json:"b,omitempty"`
	}

	record1 := &Record{}
	record1.A = NewId()
	b := NewId()
	record1.B = &b

	record1Json, err := json.Marshal(record1)
	assert.Equal(t, err, nil)

	var obj map[string]any
	assert.Equal(t, json.Unmarshal(record1Json, &obj), nil)
	assert.Equal(t, obj["a"], record1.A.String())

	record2 := &Record{}
	err = json.Unmarshal(record1Json, record2)
	assert.Equal(t, err, nil)
	assert.Equal(t, record1.A, record2.A)
	assert.Equal(t, record1.B, record2.B)

	assert.NotEqual(t, json.Unmarshal([]byte(`{"a":"bad"}`), record2), nil)
}
