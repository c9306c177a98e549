package main

import "github.com/theirongolddev/kpitarget/cmd"

func main() {
	cmd.Execute()
}
