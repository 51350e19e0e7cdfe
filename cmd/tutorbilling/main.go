// Package main is the entry point for the tutorbilling service.
package main

func main() {
	Execute()
}
