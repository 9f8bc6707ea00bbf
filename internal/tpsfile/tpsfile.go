// Package tpsfile builds the moqui_tps.in parameter file handed to the
// remote executor as an opaque blob. Generation is a pure function of
// case data, plan info, and config — it never reaches back into the
// workflow or touches the network, breaking the cycle the original
// system had between its TPS generator and its remote executor.
package tpsfile

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Beam is one DICOM treatment beam relevant to TPS parameter derivation.
type Beam struct {
	Name        string
	GantryAngle float64
	HasGantry   bool
}

// PlanInfo carries the subset of DICOM-derived plan data the TPS file
// needs. It is produced upstream by the (out-of-scope) DICOM parser and
// passed in as plain data.
type PlanInfo struct {
	Beams []Beam
}

// Paths is the set of remote directory roots the TPS file references.
type Paths struct {
	BaseDir              string
	InterpreterOutputsDir string
	OutputsDir           string
}

// CaseInfo is the minimal case data required to build the file.
type CaseInfo struct {
	ID        int64
	CasePath  string
	GpuGroup  string
}

var gpuIndexRe = regexp.MustCompile(`gpu[_-]?(\d+)`)

// ExtractGpuIndex recovers the numeric GPU index from a pueue group name
// such as "gpu_0" or "gpu3". Defaults to 0 if the name contains no gpu<N>
// pattern.
func ExtractGpuIndex(pueueGroup string) int {
	m := gpuIndexRe.FindStringSubmatch(strings.ToLower(pueueGroup))
	if m == nil {
		return 0
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return idx
}

// Generate builds the moqui_tps.in content as (case, plan_info, config) →
// bytes. baseParams supplies any additional static keys the deployment
// wants carried through verbatim (e.g. site-specific tuning values);
// the dynamic keys below always take precedence.
func Generate(c CaseInfo, plan PlanInfo, paths Paths, baseParams map[string]string) ([]byte, error) {
	if c.CasePath == "" {
		return nil, fmt.Errorf("tpsfile: case path is required")
	}
	if paths.BaseDir == "" || paths.InterpreterOutputsDir == "" || paths.OutputsDir == "" {
		return nil, fmt.Errorf("tpsfile: base_dir, interpreter_outputs_dir, and outputs_dir are all required")
	}

	params := make(map[string]string, len(baseParams)+8)
	for k, v := range baseParams {
		params[k] = v
	}

	caseName := path.Base(strings.ReplaceAll(c.CasePath, `\`, "/"))
	gpuGroup := c.GpuGroup
	if gpuGroup == "" {
		gpuGroup = "default"
	}

	params["GPUID"] = strconv.Itoa(ExtractGpuIndex(gpuGroup))
	params["DicomDir"] = joinRemote(paths.BaseDir, caseName)
	logPath := joinRemote(paths.InterpreterOutputsDir, caseName)
	params["logFilePath"] = logPath
	params["ParentDir"] = logPath
	params["OutputDir"] = joinRemote(paths.OutputsDir, caseName)

	treatmentBeams := treatmentBeams(plan.Beams)
	if len(treatmentBeams) > 0 {
		params["BeamNumbers"] = strconv.Itoa(len(treatmentBeams))
		if treatmentBeams[0].HasGantry {
			params["GantryNum"] = strconv.Itoa(int(treatmentBeams[0].GantryAngle))
		}
	}

	return []byte(render(params)), nil
}

func treatmentBeams(beams []Beam) []Beam {
	var out []Beam
	for _, b := range beams {
		if strings.Contains(strings.ToUpper(b.Name), "SETUP") {
			continue
		}
		out = append(out, b)
	}
	return out
}

func joinRemote(base, leaf string) string {
	base = strings.TrimRight(strings.ReplaceAll(base, `\`, "/"), "/")
	return base + "/" + leaf
}

func render(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# Key-Value format. Values are populated dynamically at runtime.\n\n")
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(" ")
		b.WriteString(params[k])
		b.WriteString("\n")
	}
	return b.String()
}

// RequiredKeys is the minimum key set spec §6 requires in every
// generated file.
var RequiredKeys = []string{"GPUID", "DicomDir", "logFilePath", "OutputDir", "BeamNumbers"}

// Validate reports whether content carries every key in required.
func Validate(content []byte, required []string) bool {
	if len(content) == 0 {
		return false
	}
	present := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(string(content)), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		present[fields[0]] = true
	}
	for _, k := range required {
		if !present[k] {
			return false
		}
	}
	return true
}
