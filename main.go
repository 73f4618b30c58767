package main

import (
	"github.com/IamJingZhang/pikiwidb/cmd"
)

func main() {
	cmd.Execute()
}
