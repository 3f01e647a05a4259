package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"unimarket/internal/api"
	"unimarket/internal/app"
	"unimarket/internal/config"
	"unimarket/internal/session"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	loginFlag := flag.Bool("login", false, "log in and store the access token, then exit")
	logoutFlag := flag.Bool("logout", false, "discard the stored access token, then exit")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *loginFlag {
		if err := runLogin(profile); err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if *logoutFlag {
		if err := session.ClearToken(profile); err != nil {
			fmt.Fprintf(os.Stderr, "logout failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("logged out of profile %q\n", profile)
		return
	}

	application := fx.New(
		app.Module(app.Params{Profile: profile}),
		fx.NopLogger,
	)
	if err := application.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	application.Run()
}

func runLogin(profile string) error {
	cfg, err := config.Load(session.ConfigPath())
	if os.IsNotExist(err) {
		cfg = config.Default()
	} else if err != nil {
		return err
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Email: ")
	email, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	fmt.Print("Password: ")
	password, err := reader.ReadString('\n')
	if err != nil {
		return err
	}

	client := api.New(cfg.APIBaseURL, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sess, err := client.Login(ctx, strings.TrimSpace(email), strings.TrimSpace(password))
	if err != nil {
		return err
	}

	if err := session.EnsureDir(profile); err != nil {
		return err
	}
	if err := session.WriteToken(profile, sess.AccessToken); err != nil {
		return err
	}
	fmt.Printf("logged in as %s (profile %q)\n", sess.User.Name, profile)
	return nil
}
