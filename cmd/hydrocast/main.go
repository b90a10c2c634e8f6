package main

import "github.com/ezoic/hydrocast/cmd/hydrocast/cmd"

func main() {
	cmd.Execute()
}
