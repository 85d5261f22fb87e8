package tool

// Verdict is the outcome of the program validation tool. It is produced by
// one tool and consumed by the gate before persistence tools run.
type Verdict struct {
	ShouldSave      bool     `json:"should_save"`
	BlockingReasons []string `json:"blocking_reasons,omitempty"`
	Confidence      float64  `json:"confidence"`
}

// BlockedResult is returned in place of a gated tool's output when the
// verdict forbids the call. Expected, not an error: the caller surfaces it
// as a structured tool result.
type BlockedResult struct {
	Blocked bool     `json:"blocked"`
	Tool    string   `json:"tool"`
	Reasons []string `json:"reasons,omitempty"`
}

// gatedTools are short-circuited after a negative verdict. The block is
// enforced here in code, independent of what the model requests.
var gatedTools = map[string]bool{
	"normalize_program": true,
	"save_program":      true,
}

// Enforce is the authoritative validation gate. Pure function: no verdict
// yet means no blocking; a negative verdict blocks the gated set; tools
// outside the set are never affected. Returns nil when the call may proceed.
func Enforce(toolName string, verdict *Verdict) *BlockedResult {
	if verdict == nil || verdict.ShouldSave {
		return nil
	}
	if !gatedTools[toolName] {
		return nil
	}
	reasons := verdict.BlockingReasons
	if len(reasons) == 0 {
		reasons = []string{"validation verdict was negative"}
	}
	return &BlockedResult{Blocked: true, Tool: toolName, Reasons: reasons}
}
