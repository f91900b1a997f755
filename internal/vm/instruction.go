// Package vm implements the pipeline executor: a stack-less register/accumulator
// virtual machine that runs a compiled Program against a per-request ExecutionContext
// (spec.md §4.4, §4.5).
package vm

import (
	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/expr"
)

// Op is the closed instruction set of the Program contract (spec.md §4.4). Split/merged
// relative to the spec's list in three places, all called out in DESIGN.md: Push exists
// because the spec's "small per-frame operand stack" needs an explicit instruction to
// populate it, CheckEventType is a trace-only marker rather than a distinct control
// construct (the actual filter is ordinary lowered-expression bytecode ending in
// JumpIfFalse), and MatchRegex carries its pattern in Instruction.Pattern rather than
// taking it as an operand.
type Op int

const (
	OpLoadConst Op = iota
	OpLoadField
	OpStore
	OpPush
	OpBinaryOp
	OpCompare
	OpUnaryOp
	OpJump
	OpJumpIfTrue
	OpJumpIfFalse
	OpReturn
	OpAddScore
	OpSetScore
	OpSetSignal
	OpAddAction
	OpMarkRuleTriggered
	OpCallRuleset
	OpCallFeature
	OpCallList
	OpCallApi
	OpCallService
	OpCallLLM
	OpMarkBranchExecuted
	OpMarkStepExecuted
	OpCallGroupBegin
	OpCallGroupEnd
	OpCheckEventType
	OpMatchRegex
)

func (o Op) String() string {
	switch o {
	case OpLoadConst:
		return "LoadConst"
	case OpLoadField:
		return "LoadField"
	case OpStore:
		return "Store"
	case OpPush:
		return "Push"
	case OpBinaryOp:
		return "BinaryOp"
	case OpCompare:
		return "Compare"
	case OpUnaryOp:
		return "UnaryOp"
	case OpJump:
		return "Jump"
	case OpJumpIfTrue:
		return "JumpIfTrue"
	case OpJumpIfFalse:
		return "JumpIfFalse"
	case OpReturn:
		return "Return"
	case OpAddScore:
		return "AddScore"
	case OpSetScore:
		return "SetScore"
	case OpSetSignal:
		return "SetSignal"
	case OpAddAction:
		return "AddAction"
	case OpMarkRuleTriggered:
		return "MarkRuleTriggered"
	case OpCallRuleset:
		return "CallRuleset"
	case OpCallFeature:
		return "CallFeature"
	case OpCallList:
		return "CallList"
	case OpCallApi:
		return "CallApi"
	case OpCallService:
		return "CallService"
	case OpCallLLM:
		return "CallLLM"
	case OpMarkBranchExecuted:
		return "MarkBranchExecuted"
	case OpMarkStepExecuted:
		return "MarkStepExecuted"
	case OpCallGroupBegin:
		return "CallGroupBegin"
	case OpCallGroupEnd:
		return "CallGroupEnd"
	case OpCheckEventType:
		return "CheckEventType"
	case OpMatchRegex:
		return "MatchRegex"
	default:
		return "Unknown"
	}
}

// Instruction is one step of a compiled Program. Not every field is meaningful for
// every Op; see the per-Op comments in the compiler for which fields each opcode reads.
type Instruction struct {
	Op Op

	Const int             // LoadConst
	Field *expr.FieldPath // LoadField, Store

	Str string // BinaryOp/Compare/UnaryOp: operator symbol

	Label  string // Jump*: symbolic target, resolved to Target by the assembler
	Target int    // Jump*: resolved instruction index

	N int64 // AddScore, SetScore

	Signal   string // SetSignal
	Reason   string // SetSignal
	Override bool   // SetSignal: spec.md Open Question decision D.1

	ActionConst int // AddAction: index into Program.Constants

	RuleID string // MarkRuleTriggered

	CallID     string               // CallRuleset, CallFeature, CallList, CallApi, CallService, CallLLM
	DestKey    string               // Call*: ExecutionContext key the response is stored under
	Endpoint   string               // CallApi
	Method     string               // CallApi, CallService
	KeyExpr    *expr.Node           // CallList: evaluated directly at runtime, not lowered
	PromptExpr *expr.Node           // CallLLM: evaluated directly at runtime, not lowered
	Policy     *artifact.CallPolicy // Call*

	GroupSize int    // CallGroupBegin: number of calls in the fenced group
	GroupName string // CallGroupBegin: trace label

	BranchLabel string // MarkBranchExecuted
	StepID      string // MarkStepExecuted, CheckEventType
	Pattern     string // MatchRegex: the regex source, matched against acc as a string
}
