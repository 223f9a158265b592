package main

import "github.com/surftrail/surftrail/cmd/surftrail/cmd"

func main() {
	cmd.Execute()
}
