// Package buildutil provides helpers for reading and editing attributes of
// buildtools AST nodes.
package buildutil

import (
	"github.com/bazelbuild/buildtools/build"
)

// Arg returns the named argument of a call, or nil when absent.
func Arg(call *build.CallExpr, name string) *build.AssignExpr {
	for _, arg := range call.List {
		assign, ok := arg.(*build.AssignExpr)
		if !ok {
			continue
		}
		if lhs, ok := assign.LHS.(*build.Ident); ok && lhs.Name == name {
			return assign
		}
	}
	return nil
}

// String extracts a string attribute from a function call by name.
// If name is empty and the call has positional arguments, returns the first
// positional string argument.
// Returns empty string if the attribute is not found or not a string literal.
func String(call *build.CallExpr, name string) string {
	if name == "" {
		if len(call.List) > 0 {
			if str, ok := call.List[0].(*build.StringExpr); ok {
				return str.Value
			}
		}
		return ""
	}
	if assign := Arg(call, name); assign != nil {
		if str, ok := assign.RHS.(*build.StringExpr); ok {
			return str.Value
		}
	}
	return ""
}

// Ident returns the identifier an attribute is bound to, e.g. VERSION in
// bazel_dep(version = VERSION). Empty when the attribute is a literal or absent.
func Ident(call *build.CallExpr, name string) string {
	if assign := Arg(call, name); assign != nil {
		if ident, ok := assign.RHS.(*build.Ident); ok {
			return ident.Name
		}
	}
	return ""
}

// Bool extracts a boolean attribute from a function call by name.
// Returns false if the attribute is not found or not a boolean identifier.
func Bool(call *build.CallExpr, name string) bool {
	if assign := Arg(call, name); assign != nil {
		if ident, ok := assign.RHS.(*build.Ident); ok {
			return ident.Name == "True"
		}
	}
	return false
}

// SetString binds the named attribute to a string literal, appending the
// argument when missing. Reports whether the call changed.
func SetString(call *build.CallExpr, name, value string) bool {
	if assign := Arg(call, name); assign != nil {
		if str, ok := assign.RHS.(*build.StringExpr); ok && str.Value == value {
			return false
		}
		assign.RHS = &build.StringExpr{Value: value}
		return true
	}
	call.List = append(call.List, &build.AssignExpr{
		LHS: &build.Ident{Name: name},
		Op:  "=",
		RHS: &build.StringExpr{Value: value},
	})
	return true
}

// StringAssignments returns the top-level `NAME = "value"` statements of a
// file keyed by name. A later assignment wins.
func StringAssignments(f *build.File) map[string]*build.StringExpr {
	out := make(map[string]*build.StringExpr)
	for _, stmt := range f.Stmt {
		assign, ok := stmt.(*build.AssignExpr)
		if !ok {
			continue
		}
		lhs, ok := assign.LHS.(*build.Ident)
		if !ok {
			continue
		}
		if str, ok := assign.RHS.(*build.StringExpr); ok {
			out[lhs.Name] = str
		}
	}
	return out
}

// Calls returns the top-level calls of a file to the named function in
// source order.
func Calls(f *build.File, name string) []*build.CallExpr {
	var out []*build.CallExpr
	for _, stmt := range f.Stmt {
		if call, ok := stmt.(*build.CallExpr); ok && IsFuncCall(call, name) {
			out = append(out, call)
		}
	}
	return out
}

// FuncName returns the function name from a CallExpr.
// Returns empty string if the call is not a simple function call
// (e.g., method calls like foo.bar()).
func FuncName(call *build.CallExpr) string {
	if ident, ok := call.X.(*build.Ident); ok {
		return ident.Name
	}
	return ""
}

// IsFuncCall returns true if the call is for the specified function name.
func IsFuncCall(call *build.CallExpr, name string) bool {
	return FuncName(call) == name
}
