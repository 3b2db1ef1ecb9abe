package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	nuvom "github.com/nahom-zewdu/Nuvom"
	"github.com/nahom-zewdu/Nuvom/job"
)

const (
	// recordMagic marks a Nuvom job record.
	recordMagic byte = 0x4E // 'N'
	// recordVersion is the current wire format version.
	recordVersion byte = 0x01
)

// Msgpack is the default job codec. Encoding is deterministic for equal
// inputs: struct fields are written in declaration order and map keys are
// sorted.
type Msgpack struct{}

// Name implements Codec.
func (c *Msgpack) Name() string { return "msgpack" }

// Encode implements Codec.
func (c *Msgpack) Encode(j *job.Job) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(recordMagic)
	buf.WriteByte(recordVersion)

	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(j); err != nil {
		return nil, fmt.Errorf("%w: encode job %s: %v", nuvom.ErrUnsupportedValue, j.ID, err)
	}
	return buf.Bytes(), nil
}

// Decode implements Codec.
func (c *Msgpack) Decode(data []byte) (*job.Job, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: record too short (%d bytes)", nuvom.ErrCorruptRecord, len(data))
	}
	if data[0] != recordMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%02x", nuvom.ErrCorruptRecord, data[0])
	}
	if data[1] != recordVersion {
		return nil, fmt.Errorf("%w: unsupported record version %d", nuvom.ErrCorruptRecord, data[1])
	}

	var j job.Job
	if err := msgpack.Unmarshal(data[2:], &j); err != nil {
		return nil, fmt.Errorf("%w: %v", nuvom.ErrCorruptRecord, err)
	}
	if j.ID == "" || j.FuncName == "" {
		return nil, fmt.Errorf("%w: record missing id or func_name", nuvom.ErrCorruptRecord)
	}
	return &j, nil
}
