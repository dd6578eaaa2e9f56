//go:build tools

// Package lint pins the linters run over the repository. It is a separate
// module so the linters' dependencies stay out of the main go.mod.
//
// Usage from the repository root:
//
//	go run -modfile=tools/lint/go.mod github.com/golangci/golangci-lint/v2/cmd/golangci-lint run ./...
//	go run -modfile=tools/lint/go.mod honnef.co/go/tools/cmd/staticcheck ./...
package lint
