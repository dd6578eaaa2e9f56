// Command bzlrel drives release operations over a graph of Bazel modules.
//
// Usage:
//
//	bzlrel --config bzlrel.yaml references Domain/app:D/main
//	bzlrel --config bzlrel.yaml change-references Domain/app:D/main --set Domain/lib=S/1.0
//	bzlrel --config bzlrel.yaml create-static Domain/lib:D/main --prefix 1.0.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
