package main

import "github.com/samsaffron/groq-chat/cmd"

func main() {
	cmd.Execute()
}
