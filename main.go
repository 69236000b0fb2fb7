package main

import "github.com/fakeyudi/ridelog/cmd"

func main() {
	cmd.Execute()
}
