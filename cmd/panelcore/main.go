package main

import (
	"os"

	"github.com/small-frappuccino/panelcore/pkg/app"
	"github.com/small-frappuccino/panelcore/pkg/log"
)

func main() {
	if err := app.Run("panelcore", "PANELCORE_BOT_TOKEN"); err != nil {
		log.ErrorLoggerRaw().Error("Fatal", "err", err)
		os.Exit(1)
	}
}
