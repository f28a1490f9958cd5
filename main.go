package main

import "poolbench/cmd"

func main() {
	cmd.Execute()
}
