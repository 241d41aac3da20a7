package main

import "github.com/rtchat/authserver/cmd"

func main() {
	cmd.Execute()
}
