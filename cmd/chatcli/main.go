// Command chatcli is a terminal chat client.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"chatgogo/matchclient/internal/chathub"
	"chatgogo/matchclient/internal/config"
	"chatgogo/matchclient/internal/connection"
	"chatgogo/matchclient/internal/console"
	"chatgogo/matchclient/internal/localization"
	"chatgogo/matchclient/internal/logging"
	"chatgogo/matchclient/internal/models"
	"chatgogo/matchclient/internal/transport/ws"
)

func main() {
	server := flag.String("server", "", "session server URL, overrides CHAT_SERVER_URL")
	lang := flag.String("lang", localization.DefaultLanguage, "interface language (en, uk)")
	logFile := flag.String("log-file", "", "write logs to this file instead of stderr")
	name := flag.String("name", "", "profile name; with -age, -gender and -pref skips onboarding")
	age := flag.Int("age", 0, "profile age")
	gender := flag.String("gender", "", "profile gender (male, female, other)")
	pref := flag.String("pref", "", "partner preference (male, female, both)")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *server != "" {
		cfg.Transport.ServerURL = *server
	}

	logOut := io.Writer(os.Stderr)
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		logOut = f
		cfg.Log.Console = false
	}
	logging.InitWriter(cfg.Log, "chatcli", logOut)

	var profile *models.UserProfile
	if *name != "" {
		profile, err = models.NewUserProfile(*name, *age, models.Gender(*gender), models.Preference(*pref))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	loc, err := localization.Default()
	if err != nil {
		log.Fatal().Err(err).Msg("load translations")
	}

	manager := connection.NewManager(cfg.Transport, &ws.Dialer{})
	session := chathub.NewSession(cfg.Session, models.NewIdentity(profile), manager)
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := console.New(session, loc, *lang, os.Stdout)
	if err := c.Run(ctx, os.Stdin); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("input")
	}
}
