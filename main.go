package main

import "github.com/nextlevelbuilder/relaygate/cmd"

func main() {
	cmd.Execute()
}
