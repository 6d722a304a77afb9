// Command heraldd runs the Herald webhook delivery daemon and its helper
// tools for signing and verifying payloads.
package main

func main() {
	Execute()
}
