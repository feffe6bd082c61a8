package main

import "github.com/jmcleod/halflife/cmd/halflife/cmd"

func main() {
	cmd.Execute()
}
