package compiler

import (
	"fmt"

	"github.com/riskguard/decisionengine/internal/expr"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

var nullValue = value.Null()

// lowerExpr emits the instruction sequence for n, leaving its value in the
// accumulator (spec.md §4.2 "Compile-time lowering"). and/or short-circuit via
// JumpIfFalse/JumpIfTrue exactly as spec.md §4.2 describes: "…; JumpIfFalse END; …;
// END:".
func (a *asm) lowerExpr(n *expr.Node) error {
	if n == nil {
		a.emit(vm.Instruction{Op: vm.OpLoadConst, Const: a.constants.add(nullValue)})
		return nil
	}
	switch n.Kind {
	case expr.KindLiteral:
		a.emit(vm.Instruction{Op: vm.OpLoadConst, Const: a.constants.add(n.Value)})

	case expr.KindField:
		a.emit(vm.Instruction{Op: vm.OpLoadField, Field: n.Field})

	case expr.KindAnd:
		end := a.newLabel("and_end")
		for i, op := range n.Operands {
			if err := a.lowerExpr(op); err != nil {
				return err
			}
			if i < len(n.Operands)-1 {
				a.emit(vm.Instruction{Op: vm.OpJumpIfFalse, Label: end})
			}
		}
		a.mark(end)

	case expr.KindOr:
		end := a.newLabel("or_end")
		for i, op := range n.Operands {
			if err := a.lowerExpr(op); err != nil {
				return err
			}
			if i < len(n.Operands)-1 {
				a.emit(vm.Instruction{Op: vm.OpJumpIfTrue, Label: end})
			}
		}
		a.mark(end)

	case expr.KindNot:
		if err := a.lowerExpr(n.Left); err != nil {
			return err
		}
		a.emit(vm.Instruction{Op: vm.OpUnaryOp, Str: "not"})

	case expr.KindExists:
		a.emit(vm.Instruction{Op: vm.OpLoadField, Field: n.Field})
		a.emit(vm.Instruction{Op: vm.OpUnaryOp, Str: "is_not_null"})

	case expr.KindMissing:
		a.emit(vm.Instruction{Op: vm.OpLoadField, Field: n.Field})
		a.emit(vm.Instruction{Op: vm.OpUnaryOp, Str: "is_null"})

	case expr.KindRegex:
		if err := a.lowerExpr(n.Left); err != nil {
			return err
		}
		a.emit(vm.Instruction{Op: vm.OpMatchRegex, Pattern: n.Pattern})

	case expr.KindIn:
		if err := a.lowerExpr(n.Left); err != nil {
			return err
		}
		a.emit(vm.Instruction{Op: vm.OpPush})
		if err := a.lowerExpr(n.Right); err != nil {
			return err
		}
		a.emit(vm.Instruction{Op: vm.OpCompare, Str: "in"})

	case expr.KindBinary:
		if n.Op == "neg" {
			if err := a.lowerExpr(n.Left); err != nil {
				return err
			}
			a.emit(vm.Instruction{Op: vm.OpUnaryOp, Str: "neg"})
			return nil
		}
		if err := a.lowerExpr(n.Left); err != nil {
			return err
		}
		a.emit(vm.Instruction{Op: vm.OpPush})
		if err := a.lowerExpr(n.Right); err != nil {
			return err
		}
		if compareOps[n.Op] {
			a.emit(vm.Instruction{Op: vm.OpCompare, Str: n.Op})
		} else {
			a.emit(vm.Instruction{Op: vm.OpBinaryOp, Str: n.Op})
		}

	default:
		return fmt.Errorf("compiler: unknown expression node kind %d", n.Kind)
	}
	return nil
}
