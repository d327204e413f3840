package receiver

import "strings"

// SinkName derives the output file name from a FILE_NAME payload,
// per §4.4: strip any path prefix (either separator), split at the last
// '.', and insert "_output" before the extension. An empty payload
// yields the fixed name "output".
func SinkName(payload []byte) string {
	if len(payload) == 0 {
		return "output"
	}

	full := string(payload)
	if idx := strings.LastIndexAny(full, "/\\"); idx >= 0 {
		full = full[idx+1:]
	}

	dot := strings.LastIndex(full, ".")
	if dot < 0 {
		return full + "_output"
	}
	return full[:dot] + "_output" + full[dot:]
}
