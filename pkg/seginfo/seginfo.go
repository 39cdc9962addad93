// Package seginfo names and discovers spill files.
//
// A spill file is called `prefix_pid_timestamp.spill`, which lets a later process
// recognise files left behind by a crashed predecessor.
package seginfo

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/iamBelugaa/manmem/pkg/filesys"
)

const Extension = ".spill"

// GenerateName builds the spill file name for a process.
func GenerateName(prefix string, pid int, timestamp int64) string {
	return fmt.Sprintf("%s_%d_%d%s", prefix, pid, timestamp, Extension)
}

// ListSpillFiles returns all spill files with the given prefix in dir, sorted by name.
func ListSpillFiles(dir, prefix string) ([]string, error) {
	if dir == "" || prefix == "" {
		return nil, fmt.Errorf("all parameters (dir, prefix) must be non-empty")
	}

	// Example: "/tmp/manmem/manmem_*.spill"
	searchPattern := filepath.Join(dir, prefix+"_*"+Extension)

	matchingFiles, err := filesys.ReadDir(searchPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to read spill directory with pattern %s: %w", searchPattern, err)
	}

	slices.Sort(matchingFiles)
	return matchingFiles, nil
}

// ParseName extracts the owning pid and creation timestamp from a spill file path.
func ParseName(fullPath, prefix string) (pid int, timestamp int64, err error) {
	_, filename := filepath.Split(fullPath)

	if !strings.HasPrefix(filename, prefix+"_") || !strings.HasSuffix(filename, Extension) {
		return 0, 0, fmt.Errorf("filename %s does not match %s_pid_timestamp%s", filename, prefix, Extension)
	}

	// Example: "manmem_4242_1678881234567890.spill" -> "4242_1678881234567890"
	body := strings.TrimSuffix(strings.TrimPrefix(filename, prefix+"_"), Extension)

	parts := strings.Split(body, "_")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("filename %s has unexpected format, expected prefix_pid_timestamp%s", filename, Extension)
	}

	pid, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse pid '%s': %w", parts[0], err)
	}

	timestamp, err = strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse timestamp '%s': %w", parts[1], err)
	}

	return pid, timestamp, nil
}
