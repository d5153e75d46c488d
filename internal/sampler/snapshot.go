package sampler

import (
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Snapshot is one tick of host resource counters.
// Set once by the sampler, never modified afterwards.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	TaskID    uint64    `json:"taskID"` // HashTaskID of the owning task

	// Network maps metric name -> interface -> counter value
	Network map[string]map[string]uint64 `json:"network,omitempty"`

	// Host maps metric name -> value (cpu, load, memory)
	Host map[string]float64 `json:"host,omitempty"`
}

// HashTaskID turns a task identifier into the tag carried by snapshots.
// Numeric and string forms of the same id hash identically.
func HashTaskID(id string) uint64 {
	return xxhash.Sum64String(id)
}

// HashTaskIDInt is HashTaskID for integer ids
func HashTaskIDInt(id int64) uint64 {
	return HashTaskID(strconv.FormatInt(id, 10))
}

// Interfaces returns the sorted interface names present in this snapshot
func (s Snapshot) Interfaces() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, byIface := range s.Network {
		for iface := range byIface {
			if _, ok := seen[iface]; ok {
				continue
			}
			seen[iface] = struct{}{}
			out = append(out, iface)
		}
	}
	sort.Strings(out)
	return out
}
