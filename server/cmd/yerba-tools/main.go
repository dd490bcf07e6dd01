package main

import (
	"github.com/lyonslab/yerba/server/cmd/yerba-tools/commands"
	_ "github.com/lyonslab/yerba/server/cmd/yerba-tools/commands/dump"
	_ "github.com/lyonslab/yerba/server/cmd/yerba-tools/commands/migrate"
)

func main() {
	commands.Execute()
}
