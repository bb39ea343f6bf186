package main

import "crossmake/cmd"

func main() {
	cmd.Execute()
}
