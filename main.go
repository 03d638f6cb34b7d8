package main

import "github.com/kozaktomas/photo-courier/cmd"

func main() {
	cmd.Execute()
}
