package main

import "github.com/ccproxy/ccproxy/cmd"

func main() {
	cmd.Execute()
}
