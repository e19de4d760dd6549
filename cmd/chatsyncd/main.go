package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tbduarte/chatsync/internal/daemon"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "config.toml", "path to config.toml")
	convFlag := flag.Int64("conversation", 0, "conversation id to join")
	tokenFlag := flag.String("token", os.Getenv("CHATSYNC_TOKEN"), "bearer credential")
	userFlag := flag.Int64("user", 0, "current user id")
	flag.Parse()

	if *convFlag == 0 {
		fmt.Fprintln(os.Stderr, "error: -conversation is required")
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{
			ConfigPath:     *configFlag,
			ConversationID: *convFlag,
			Token:          *tokenFlag,
			UserID:         *userFlag,
		}),
	)

	app.Run()
}
