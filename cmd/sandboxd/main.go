package main

import (
	"fmt"
	"log"
	"os"

	"github.com/qbit-dev/sandboxd/common/version"
	"github.com/qbit-dev/sandboxd/manager/configure"
	"github.com/qbit-dev/sandboxd/manager/server"
	"github.com/urfave/cli/v3"
)

func main() {
	app := cli.NewApp()
	app.Name = "sandboxd"
	app.Usage = "Sandbox lifecycle and hot-reload manager"
	app.Version = version.Version
	app.Authors = []*cli.Author{}
	for _, author := range version.Authors {
		app.Authors = append(app.Authors, &cli.Author{Name: author[0], Email: author[1]})
	}
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "serve",
		Aliases: []string{"s", "run"},
		Usage:   "Start the sandboxd service",
		Action: func(ctx *cli.Context) error {
			conf, err := configure.LoadConfigure(ctx.String("configure"))
			if err != nil {
				return err
			}
			if conf.Sandbox == nil ||
				conf.Sandbox.TemplateID == "" ||
				conf.Provisioner == nil ||
				conf.Nsq == nil ||
				conf.Nsq.Topics == nil ||
				conf.Redis == nil ||
				conf.Redis.Expire == nil ||
				conf.MinIO == nil ||
				conf.MinIO.Buckets == nil ||
				conf.MinIO.Credentials == nil {
				return fmt.Errorf("invalid configure, some required parameters not set")
			}
			svc, err := server.NewService(conf)
			if err != nil {
				return err
			}
			return svc.Run()
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "configure",
				Aliases:     []string{"config", "c"},
				Usage:       "The path to configure file (yaml format)",
				Value:       "/etc/sandboxd.yml",
				DefaultText: "/etc/sandboxd.yml",
			},
		},
	})
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}
