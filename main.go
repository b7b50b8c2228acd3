package main

import (
	"hawser/cmd"
)

func main() {
	cmd.Execute()
}
