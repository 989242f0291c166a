package main

import "github.com/HumbleToS/SuperiorSpork/cmd"

func main() {
	cmd.Execute()
}
