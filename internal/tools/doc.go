// Package tools provides the callable tools agents invoke while running a
// stage, along with the bounded retry wrapper that shields agents from
// transient tool failures.
package tools
