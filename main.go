package main

import "github.com/mixdown-tools/deskrec/cmd"

func main() {
	cmd.Execute()
}
