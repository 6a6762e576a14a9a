package main

import (
	"flag"
	"os"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"

	"motion-timeline/internal/config"
	"motion-timeline/internal/logging"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the yaml config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		println("Error:", err.Error())
		os.Exit(1)
	}
	cfg.LoadEnv()
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	app, err := NewApp(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}

	err = wails.Run(&options.App{
		Title:  "Motion Timeline",
		Width:  1024,
		Height: 768,

		// /video/* and the websocket are served by the same router the
		// standalone media server uses.
		AssetServer: &assetserver.Options{
			Handler: app.server.Handler(),
		},

		BackgroundColour: &options.RGBA{R: 27, G: 38, B: 54, A: 1},
		OnStartup:        app.startup,
		OnShutdown:       app.shutdown,
		Bind: []interface{}{
			app,
		},
		Windows: &windows.Options{
			WebviewIsTransparent: false,
			WindowIsTranslucent:  false,
			BackdropType:         windows.Mica,
		},
		Mac: &mac.Options{
			TitleBar: &mac.TitleBar{
				TitlebarAppearsTransparent: true,
				HideTitle:                  false,
				HideTitleBar:               false,
				FullSizeContent:            false,
				UseToolbar:                 false,
				HideToolbarSeparator:       true,
			},
			Appearance:           mac.NSAppearanceNameDarkAqua,
			WebviewIsTransparent: true,
			WindowIsTranslucent:  true,
			About: &mac.AboutInfo{
				Title:   "Motion Timeline",
				Message: "Multi-language scene timeline",
				Icon:    nil,
			},
		},
	})

	if err != nil {
		log.Error().Err(err).Msg("wails")
	}
}
