package main

import "github.com/brensch/batchfetch/cmd"

func main() {
	cmd.Execute()
}
