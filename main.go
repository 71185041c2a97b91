package main

import "github.com/havenapp/haven/cmd"

func main() {
	cmd.Execute()
}
