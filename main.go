package main

import "github.com/jake-scott/smartthings-appliances/cmd"

func main() {
	cmd.Execute()
}
