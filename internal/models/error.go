package models

import (
	"strings"
)

// Method identifies a method within a namespace and declaring type.
type Method struct {
	Namespace  string   `json:"namespace,omitempty"`
	TypeName   string   `json:"type_name,omitempty"`
	Name       string   `json:"name"`
	Parameters []string `json:"parameters,omitempty"`
}

// Signature renders the fully qualified method signature.
func (m Method) Signature() string {
	var b strings.Builder
	if m.Namespace != "" {
		b.WriteString(m.Namespace)
		b.WriteString(".")
	}
	if m.TypeName != "" {
		b.WriteString(m.TypeName)
		b.WriteString(".")
	}
	b.WriteString(m.Name)
	b.WriteString("(")
	b.WriteString(strings.Join(m.Parameters, ", "))
	b.WriteString(")")
	return b.String()
}

// StackFrame is a single frame of a captured stack trace, top of stack first.
type StackFrame struct {
	Method
	FileName   string `json:"file_name,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
}

// Error is one element of a nested error chain attached to an error event.
type Error struct {
	Type         string       `json:"type,omitempty"`
	Message      string       `json:"message,omitempty"`
	Code         string       `json:"code,omitempty"`
	StackTrace   []StackFrame `json:"stack_trace,omitempty"`
	TargetMethod *Method      `json:"target_method,omitempty"`
	Inner        *Error       `json:"inner,omitempty"`
}

// Chain returns the error chain ordered outermost to innermost.
func (e *Error) Chain() []*Error {
	var chain []*Error
	for cur := e; cur != nil; cur = cur.Inner {
		chain = append(chain, cur)
	}
	return chain
}

// Innermost returns the deepest error in the chain.
func (e *Error) Innermost() *Error {
	cur := e
	for cur.Inner != nil {
		cur = cur.Inner
	}
	return cur
}
