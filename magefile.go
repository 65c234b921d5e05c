//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default target to run when none is specified
var Default = Build

// Build compiles the server and CLI into bin/.
func Build() error {
	fmt.Println("Building...")
	if err := sh.Run("go", "build", "-o", "bin/csvimport-server", "./cmd/server"); err != nil {
		return err
	}
	return sh.Run("go", "build", "-o", "bin/csvimport", "./cmd/csvimport")
}

// Test runs all tests.
func Test() error {
	fmt.Println("Running Tests...")
	return sh.RunV("go", "test", "./...")
}

// Race runs all tests with the race detector.
func Race() error {
	fmt.Println("Running Tests with -race...")
	return sh.RunV("go", "test", "-race", "./...")
}

// Check runs formatting and vet checks.
func Check() error {
	mg.Deps(Fmt, Vet)
	return nil
}

// Fmt runs go fmt ./...
func Fmt() error {
	fmt.Println("Running go fmt...")
	return sh.Run("go", "fmt", "./...")
}

// Vet runs go vet ./...
func Vet() error {
	fmt.Println("Running go vet...")
	return sh.Run("go", "vet", "./...")
}

// Tidy runs go mod tidy.
func Tidy() error {
	fmt.Println("Running go mod tidy...")
	return sh.Run("go", "mod", "tidy")
}

// Serve builds and starts the HTTP server with the current environment.
func Serve() error {
	mg.Deps(Build)
	return sh.RunV("bin/csvimport-server")
}

// Clean removes build output.
func Clean() error {
	fmt.Println("Cleaning...")
	return os.RemoveAll("bin")
}
