package main

import "medshare/cmd"

func main() {
	cmd.Execute()
}
