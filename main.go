// Command telegram-dump mirrors Telegram dialogs into a SQLite database and a media tree.
package main

import (
	"os"

	"telegramdump/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
