package idgen

import (
	"fmt"
	"strings"
)

// Generator produces server-side message ids when a client supplies none.
type Generator interface {
	Generate() (string, error)
	Name() string
}

// Options carries per-generator parameters.
type Options struct {
	SnowflakeMachineID int64
	SnowflakeEpoch     int64
	NanoIDSize         int
	NanoIDAlphabet     string
	CUID2Length        int
}

// New returns the generator registered under name.
func New(name string, opts Options) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "uuid":
		return NewUUIDGenerator(), nil
	case "ulid":
		return NewULIDGenerator(), nil
	case "ksuid":
		return NewKSUIDGenerator(), nil
	case "nanoid":
		size := opts.NanoIDSize
		if size == 0 {
			size = DefaultNanoIDSize
		}
		alphabet := opts.NanoIDAlphabet
		if alphabet == "" {
			alphabet = DefaultNanoIDAlphabet
		}
		return NewNanoIDGenerator(size, alphabet)
	case "cuid2":
		length := opts.CUID2Length
		if length == 0 {
			length = DefaultCUID2Length
		}
		return NewCUID2Generator(length)
	case "snowflake":
		return NewSnowflakeGenerator(opts.SnowflakeMachineID, opts.SnowflakeEpoch)
	default:
		return nil, fmt.Errorf("unknown id generator %q", name)
	}
}
