package consolidated

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Origin uint8

const (
	OriginRecord Origin = iota
	OriginPartition
)

func (o Origin) String() string {
	if o == OriginPartition {
		return "p"
	}
	return "r"
}

const (
	localBits  = 48
	sourceBits = 14

	MaxSourceID = 1<<sourceBits - 1
	MaxLocalID  = 1<<localBits - 1
)

var ErrKeyRange = errors.New("logical key out of range")

// LogicalKey names one element of the consolidated view: a raw record or a
// batch partition. Its integer form packs the origin into bit 62, the source
// table into bits 48-61 and the local id into bits 0-47, so keys from
// different origins or sources never collide.
type LogicalKey struct {
	Origin   Origin
	SourceID int
	LocalID  int64
}

func RecordKeyOf(sourceID int, recordID int64) LogicalKey {
	return LogicalKey{Origin: OriginRecord, SourceID: sourceID, LocalID: recordID}
}

func PartitionKeyOf(sourceID int, partitionID int64) LogicalKey {
	return LogicalKey{Origin: OriginPartition, SourceID: sourceID, LocalID: partitionID}
}

func (k LogicalKey) Validate() error {
	if k.Origin > OriginPartition {
		return fmt.Errorf("%w: origin %d", ErrKeyRange, k.Origin)
	}
	if k.SourceID < 0 || k.SourceID > MaxSourceID {
		return fmt.Errorf("%w: source %d", ErrKeyRange, k.SourceID)
	}
	if k.LocalID < 0 || k.LocalID > MaxLocalID {
		return fmt.Errorf("%w: id %d", ErrKeyRange, k.LocalID)
	}
	return nil
}

func (k LogicalKey) Encode() (int64, error) {
	if err := k.Validate(); err != nil {
		return 0, err
	}
	return int64(k.Origin)<<(localBits+sourceBits) | int64(k.SourceID)<<localBits | k.LocalID, nil
}

func Decode(v int64) (LogicalKey, error) {
	if v < 0 || v>>(localBits+sourceBits) > int64(OriginPartition) {
		return LogicalKey{}, fmt.Errorf("%w: %d", ErrKeyRange, v)
	}
	return LogicalKey{
		Origin:   Origin(v >> (localBits + sourceBits)),
		SourceID: int((v >> localBits) & MaxSourceID),
		LocalID:  v & MaxLocalID,
	}, nil
}

// String renders the key as origin:source:id, e.g. "r:3:12345".
func (k LogicalKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.Origin, k.SourceID, k.LocalID)
}

// ParseKey accepts the String form or the encoded integer.
func ParseKey(s string) (LogicalKey, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Decode(n)
	}
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return LogicalKey{}, fmt.Errorf("invalid transaction key %q", s)
	}
	var k LogicalKey
	switch parts[0] {
	case "r":
		k.Origin = OriginRecord
	case "p":
		k.Origin = OriginPartition
	default:
		return LogicalKey{}, fmt.Errorf("invalid transaction key origin %q", parts[0])
	}
	src, err := strconv.Atoi(parts[1])
	if err != nil {
		return LogicalKey{}, fmt.Errorf("invalid transaction key source %q: %w", parts[1], err)
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return LogicalKey{}, fmt.Errorf("invalid transaction key id %q: %w", parts[2], err)
	}
	k.SourceID, k.LocalID = src, id
	if err := k.Validate(); err != nil {
		return LogicalKey{}, err
	}
	return k, nil
}

func (k LogicalKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *LogicalKey) UnmarshalText(b []byte) error {
	parsed, err := ParseKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
