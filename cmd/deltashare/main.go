package main

import "github.com/florinutz/deltashare/cmd"

func main() {
	cmd.Execute()
}
