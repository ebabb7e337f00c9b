package main

import "github.com/hianidl/hianidl/cmd"

func main() {
	cmd.Execute()
}
