package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/luxiaoze-up/doubleconeshooting-sub000/cmd/vacuum-agent/app"
)

func main() {
	app.NewApp().Run()
}
