package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/term"

	"github.com/dmitrijs2005/contexter/internal/agent"
	"github.com/dmitrijs2005/contexter/internal/agent/config"
	"github.com/dmitrijs2005/contexter/internal/flagx"
	"github.com/dmitrijs2005/contexter/internal/kinds"
)

var commands = []string{"run", "backfill", "register", "set-key", "index", "status"}

func main() {
	cmd, args, ok := flagx.SplitCommand(os.Args[1:], commands, "run")
	if !ok {
		log.Fatalf("unknown command %q (want one of %v)", cmd, commands)
	}

	cfg, err := config.LoadConfig(args)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	app, err := agent.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	if err := dispatch(ctx, app, cmd, args); err != nil {
		app.Close()
		log.Fatalf("%s: %v", cmd, err)
	}
}

func dispatch(ctx context.Context, app *agent.App, cmd string, args []string) error {
	switch cmd {
	case "backfill":
		fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
		days := fs.Int("days", 7, "number of days to re-upload")
		source := fs.String("source", kinds.Message, "source to backfill")
		if err := fs.Parse(flagx.FilterArgs(args, []string{"-days", "-source"})); err != nil {
			return err
		}
		p, err := app.Backfill(ctx, *source, *days)
		fmt.Printf("backfill %s: %s (%d/%d batches, %d records)\n", *source, p.Status, p.Current, p.Total, p.MessageCount)
		return err

	case "register":
		fs := flag.NewFlagSet("register", flag.ContinueOnError)
		token := fs.String("token", os.Getenv("CONTEXTER_ADMIN_TOKEN"), "admin token")
		name := fs.String("name", "", "device name (defaults to hostname)")
		if err := fs.Parse(flagx.FilterArgs(args, []string{"-token", "-name"})); err != nil {
			return err
		}
		if *token == "" {
			return errors.New("admin token is required (-token or CONTEXTER_ADMIN_TOKEN)")
		}
		id, err := app.Register(ctx, *token, *name)
		if err != nil {
			return err
		}
		fmt.Printf("registered device %s\n", id)
		return nil

	case "set-key":
		fs := flag.NewFlagSet("set-key", flag.ContinueOnError)
		saltHex := fs.String("salt", "", "hex salt shared by every client of this key (default: built-in)")
		if err := fs.Parse(flagx.FilterArgs(args, []string{"-salt"})); err != nil {
			return err
		}
		salt, err := hex.DecodeString(*saltHex)
		if err != nil {
			return fmt.Errorf("salt: %w", err)
		}
		pass, err := readPassphrase(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		fp, err := app.SetKey(ctx, pass, salt)
		if err != nil {
			return err
		}
		fmt.Printf("encryption key set, fingerprint %s\n", fp)
		return nil

	case "index":
		fs := flag.NewFlagSet("index", flag.ContinueOnError)
		kind := fs.String("kind", kinds.Contact, "record kind")
		field := fs.String("field", "", "indexed field, e.g. lastName")
		value := fs.String("value", "", "value to search for")
		if err := fs.Parse(flagx.FilterArgs(args, []string{"-kind", "-field", "-value"})); err != nil {
			return err
		}
		param, token, err := app.IndexToken(ctx, *kind, *field, *value)
		if err != nil {
			return err
		}
		fmt.Printf("%s=%s\n", param, token)
		return nil

	case "status":
		return app.Status(ctx, os.Stdout)

	default:
		return app.Run(ctx)
	}
}

// readPassphrase prompts twice without echo.
func readPassphrase(in *os.File, out io.Writer) ([]byte, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("set-key needs an interactive terminal")
	}

	fmt.Fprint(out, "Passphrase: ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, err
	}
	fmt.Fprint(out, "Repeat passphrase: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(first, second) {
		return nil, errors.New("passphrases do not match")
	}
	return first, nil
}
