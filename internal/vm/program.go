package vm

import "github.com/riskguard/decisionengine/internal/value"

// ProgramMetadata is the Program's self-describing header (spec.md §3 "Program"):
// pipeline id, version, declared rule ids, and the externals the compiler found
// referenced while lowering expressions, letting the host pre-warm adapter caches.
type ProgramMetadata struct {
	PipelineID       string
	Version          string
	RuleIDs          []string
	RequiredFeatures []string
	RequiredApis     []string
	RequiredServices []string
	RequiredLLMs     []string
	RequiredLists    []string
}

// Program is the compiler's output: an immutable, linear instruction list plus its
// constant pool and resolved label table (spec.md §3, §4.4). Shareable across
// concurrent requests — the VM never mutates a Program.
type Program struct {
	Instructions []Instruction
	Constants    []value.Value
	Labels       map[string]int
	Metadata     ProgramMetadata
}
