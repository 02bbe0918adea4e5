package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/boardfarm/cmd/boardfarm-server/app"
)

func main() {
	app.NewApp().Run()
}
