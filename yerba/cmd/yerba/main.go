package main

import (
	"github.com/lyonslab/yerba/yerba/cmd/yerba/commands"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/cancel"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/export"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/health"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/restart"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/schedule"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/shutdown"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/status"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/watch"
	_ "github.com/lyonslab/yerba/yerba/cmd/yerba/commands/workflows"
)

func main() {
	commands.Execute()
}
