package main

import "prism-kanban/cmd"

func main() {
	cmd.Execute()
}
