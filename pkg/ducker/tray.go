package ducker

import (
	"fyne.io/systray"

	"github.com/MixyLabs/ducker/pkg/ducker/util"
)

func (d *Ducker) initializeTray(onDone func()) {
	logger := d.logger.Named("tray")

	onReady := func() {
		logger.Debug("Tray instance ready")

		systray.SetTitle("ducker")
		systray.SetTooltip("ducker")

		pause := systray.AddMenuItemCheckbox("Pause ducking", "Keep the primary stream at full volume", false)

		editConfig := systray.AddMenuItem("Edit configuration", "Open config file with the default editor")

		if d.version != "" {
			systray.AddSeparator()
			versionInfo := systray.AddMenuItem(d.version, "")
			versionInfo.Disable()
		}

		systray.AddSeparator()
		quit := systray.AddMenuItem("Quit", "Stop ducker and quit")

		go func() {
			for {
				select {
				case <-quit.ClickedCh:
					logger.Info("Quit menu item clicked, stopping")

					d.signalStop()

				case <-pause.ClickedCh:
					if pause.Checked() {
						pause.Uncheck()
					} else {
						pause.Check()
					}

					logger.Infow("Pause menu item clicked", "paused", pause.Checked())
					d.loop.SetPaused(pause.Checked())

				case <-editConfig.ClickedCh:
					logger.Info("Edit config menu item clicked, opening config for editing")

					editor := "notepad.exe"
					if util.Linux() {
						editor = "xdg-open"
					}

					if err := util.OpenExternal(logger, editor, d.configMan.userConfigPath); err != nil {
						logger.Warnw("Failed to open config file for editing", "error", err)
					}
				}
			}
		}()

		onDone()
	}

	onExit := func() {
		logger.Debug("Tray exited")
	}

	logger.Debug("Running in tray")
	systray.Run(onReady, onExit)
}

func (d *Ducker) stopTray() {
	d.logger.Debug("Quitting tray")
	systray.Quit()
}
