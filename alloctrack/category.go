package alloctrack

import (
	"runtime"
	"strings"
)

// Category classifies the code a tree node originates from, derived from
// path heuristics on the node's own filename.
type Category string

const (
	// CategoryApplication is code under the working directory.
	CategoryApplication Category = "application"
	// CategoryDeps is third-party code from the module cache or vendor tree.
	CategoryDeps Category = "deps"
	// CategoryStdLib is the language standard library.
	CategoryStdLib Category = "stdlib"
	// CategoryCompiler is runtime and compiler-generated code.
	CategoryCompiler Category = "compiler"
	// CategoryUnknown is everything the heuristics cannot place.
	CategoryUnknown Category = "unknown"
)

var goRoot = runtime.GOROOT()

func guessCategory(cwd, filename string) Category {
	switch {
	case filename == "<autogenerated>" || isRuntimePath(filename):
		return CategoryCompiler
	case strings.Contains(filename, "/go/pkg/mod/") || strings.Contains(filename, "/vendor/"):
		return CategoryDeps
	case isStdLibPath(filename):
		return CategoryStdLib
	case cwd != "" && strings.HasPrefix(filename, cwd):
		return CategoryApplication
	default:
		return CategoryUnknown
	}
}

func isRuntimePath(filename string) bool {
	if goRoot != "" && strings.HasPrefix(filename, goRoot+"/src/runtime/") {
		return true
	}
	return strings.Contains(filename, "/go/src/runtime/")
}

func isStdLibPath(filename string) bool {
	if goRoot != "" && strings.HasPrefix(filename, goRoot+"/src/") {
		return true
	}
	return strings.Contains(filename, "/go/src/")
}
