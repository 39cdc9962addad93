package options

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/ini.v1"

	"github.com/iamBelugaa/manmem/pkg/errors"
)

// LoadFile reads an INI configuration file and turns it into option setters that
// can be layered on top of DefaultOptions. Missing keys keep their defaults.
//
//	[memory]
//	capacity = 1MiB
//	segment_size = 32KiB
//	max_concurrent_reads = 1024
//
//	[spill]
//	directory = /var/tmp/manmem
//	prefix = manmem
//	io_limit = 200MiB
//	remove_stale = true
func LoadFile(path string) ([]OptionFunc, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewValidationError(err, errors.ErrSystemInvalidInput, fmt.Sprintf("Config file not readable: %s", path))
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.NewValidationError(err, errors.ErrValidationInvalidData, fmt.Sprintf("Failed to parse config file: %s", path))
	}

	var opts []OptionFunc
	memory := file.Section("memory")
	spill := file.Section("spill")

	if v := memory.Key("capacity").String(); v != "" {
		n, err := ParseSize("memory.capacity", v, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithCapacity(int64(n)))
	}

	if v := memory.Key("segment_size").String(); v != "" {
		n, err := ParseSize("memory.segment_size", v, uint64(MaxSegmentSize))
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithSegmentSize(int(n)))
	}

	if memory.HasKey("max_concurrent_reads") {
		opts = append(opts, WithMaxConcurrentReads(memory.Key("max_concurrent_reads").MustInt64(DefaultMaxConcurrentReads)))
	}

	if v := spill.Key("directory").String(); v != "" {
		opts = append(opts, WithSpillDir(v))
	}

	if v := spill.Key("prefix").String(); v != "" {
		opts = append(opts, WithSpillPrefix(v))
	}

	if v := spill.Key("io_limit").String(); v != "" {
		n, err := ParseSize("spill.io_limit", v, math.MaxInt64)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithIOLimit(int64(n)))
	}

	if spill.HasKey("remove_stale") {
		opts = append(opts, WithRemoveStaleSpills(spill.Key("remove_stale").MustBool(false)))
	}

	return opts, nil
}
