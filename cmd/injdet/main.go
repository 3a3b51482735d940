package main

import "github.com/OpenTraceLab/OpenTraceStream/cmd/injdet/cmd"

func main() {
	cmd.Execute()
}
