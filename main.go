package main

import "github.com/partsflow/partsflow/cmd"

func main() {
	cmd.Execute()
}
