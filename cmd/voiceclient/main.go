// Package main is the voice client: it joins a relay channel with the local
// microphone and speakers.
package main

func main() {
	Execute()
}
