package remote

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var groupLineRe = regexp.MustCompile(`Group\s+"([^"]+)"\s+\((\d+)\s+parallel\):\s*(\S+)`)

// parseGroupListing parses `pueue group` output of form:
//
//	Group "gpu_0" (1 parallel): Running
//
// into a set of group names, per spec §4.3's ListGroups contract.
func parseGroupListing(output string) map[string]struct{} {
	groups := make(map[string]struct{})
	for _, line := range strings.Split(output, "\n") {
		m := groupLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		groups[m[1]] = struct{}{}
	}
	return groups
}

type rawQueueStatus struct {
	Groups map[string]struct {
		Running int `json:"running"`
		Queued  int `json:"queued"`
	} `json:"groups"`
	Tasks map[string]struct {
		Status string `json:"status"`
		Result string `json:"result"`
		Label  string `json:"label"`
	} `json:"tasks"`
}

// parseQueueStatus parses `pueue status --json` into a QueueSnapshot,
// mapping each task's raw (status, result) pair onto the four-value
// QueueStatusKind enum per the rules in spec §4.3.
func parseQueueStatus(data []byte) (QueueSnapshot, error) {
	var raw rawQueueStatus
	if err := json.Unmarshal(data, &raw); err != nil {
		return QueueSnapshot{}, fmt.Errorf("parse queue status: %w", err)
	}

	snap := QueueSnapshot{
		Groups: make(map[string]GroupLoad, len(raw.Groups)),
		Tasks:  make(map[string]TaskQueueStatus, len(raw.Tasks)),
	}
	for name, g := range raw.Groups {
		snap.Groups[name] = GroupLoad{Running: g.Running, Queued: g.Queued}
	}
	for id, t := range raw.Tasks {
		snap.Tasks[id] = TaskQueueStatus{
			Status: mapTaskStatus(t.Status, t.Result),
			Label:  t.Label,
		}
	}
	return snap, nil
}

// mapTaskStatus applies spec §4.3's queue_status mapping rules.
func mapTaskStatus(status, result string) QueueStatusKind {
	status = strings.ToLower(strings.TrimSpace(status))
	result = strings.ToLower(strings.TrimSpace(result))

	switch {
	case status == "done" && result == "success":
		return QueueSuccess
	case status == "done" && result == "failure", status == "failed", status == "killing":
		return QueueFailure
	case status == "running", status == "queued", status == "paused":
		return QueueRunning
	default:
		return QueueNotFound
	}
}

// parseHardwareUsage parses nvidia-smi CSV output of form
// "index, utilization.gpu [%], memory.used [MiB], memory.total [MiB]" rows
// (header optional) into HardwareSample values, per spec §4.3.
func parseHardwareUsage(csvData string) ([]HardwareSample, error) {
	r := csv.NewReader(strings.NewReader(csvData))
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse hardware usage csv: %w", err)
	}

	var samples []HardwareSample
	for _, rec := range records {
		if len(rec) < 4 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			continue // header row or malformed line; skip rather than fail the whole probe
		}
		util := parseFloatField(rec[1])
		memUsed := parseFloatField(rec[2])
		memTotal := parseFloatField(rec[3])
		samples = append(samples, HardwareSample{
			Index: idx, UtilPct: util, MemUsedMB: memUsed, MemTotalMB: memTotal,
		})
	}
	return samples, nil
}

func parseFloatField(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, " %")
	s = strings.TrimSuffix(s, " MiB")
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

var submitIDRe = regexp.MustCompile(`\(id:\s*(\d+)\)`)

// parseSubmitResponse extracts the task id from `pueue add` output of the
// form "...(id: 42)"; per spec §4.4, absence of the pattern is Unparseable.
func parseSubmitResponse(output string) (string, bool) {
	m := submitIDRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}
