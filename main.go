package main

import "github.com/chaos-io/bgremover/cmd"

func main() {
	cmd.Execute()
}
