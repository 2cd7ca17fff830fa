package main

import "github.com/marketcore/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
