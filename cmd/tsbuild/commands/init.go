package commands

import (
	"fmt"
	"path/filepath"

	"git.home.luguber.info/inful/tsbuild/internal/config"
)

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force  bool   `help:"Overwrite existing configuration file"`
	Output string `short:"o" name:"output" help:"Directory to write tsbuild.yaml into"`
}

func (i *InitCmd) Run(_ *Global, root *CLI) error {
	path := "tsbuild.yaml"
	switch {
	case i.Output != "":
		path = filepath.Join(i.Output, "tsbuild.yaml")
	case root.Config != "":
		path = root.Config
	}
	return RunInit(path, i.Force)
}

func RunInit(configPath string, force bool) error {
	fmt.Printf("Writing configuration to %s\n", configPath)
	if err := config.Init(configPath, force); err != nil {
		return err
	}
	fmt.Println("initialized successfully")
	return nil
}
