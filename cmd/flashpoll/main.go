package main

import "github.com/behzadon/flashpoll/cmd"

func main() {
	cmd.Execute()
}
