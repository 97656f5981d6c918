package main

import (
	"fmt"
	"log"
	"os"

	"github.com/qbit-dev/sandboxd/agent/configure"
	"github.com/qbit-dev/sandboxd/agent/server"
	"github.com/qbit-dev/sandboxd/common/version"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.NewApp()
	app.Name = "sandbox-agent"
	app.Usage = "In-sandbox command and file agent"
	app.Version = version.Version
	app.Authors = []*cli.Author{}
	for _, author := range version.Authors {
		app.Authors = append(app.Authors, &cli.Author{Name: author[0], Email: author[1]})
	}
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "serve",
		Aliases: []string{"s", "run"},
		Usage:   "Start the sandbox agent",
		Action: func(ctx *cli.Context) error {
			conf, err := configure.LoadConfigure(ctx.String("configure"))
			if err != nil {
				return err
			}
			if conf.Listen == "" || conf.SecretKey == "" {
				return fmt.Errorf("invalid configure, some required parameters not set")
			}
			srv, err := server.NewServer(conf)
			if err != nil {
				return err
			}
			return srv.Start()
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "configure",
				Aliases:     []string{"config", "c"},
				Usage:       "The path to configure file (yaml format)",
				Value:       "/etc/sandbox-agent.yml",
				DefaultText: "/etc/sandbox-agent.yml",
			},
		},
	})
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}
