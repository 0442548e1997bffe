package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"hashdive-scraper/internal/components/chrono"
	"hashdive-scraper/internal/runlog"
	"hashdive-scraper/internal/session"
	configlibsql "hashdive-scraper/lib/configutil/libsql"
	"hashdive-scraper/lib/jsonutil"

	"github.com/tcnksm/go-input"
)

const (
	localConfig = "hashdive.local.json5"
	ledgerPath  = "data/runs.db"
)

func cmd(name string, args ...string) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	fmt.Printf("$ %s %s\n", name, strings.Join(args, " "))
	err := cmd.Run()
	if err != nil {
		os.Exit(1)
	}
}

func createLedger(ctx context.Context) error {
	db, err := configlibsql.Struct{File: ledgerPath}.OpenDB()
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = runlog.New(ctx, db, chrono.NewStandardImpl())
	if err != nil {
		return err
	}
	fmt.Println("run ledger ready at", ledgerPath)
	return nil
}

// askCookies fills the manual cookie section of the local config, an empty
// answer leaves that cookie to be read from chrome.
func askCookies(ui *input.UI) (map[string]string, error) {
	fmt.Println("paste the hashdive.com cookie values from your browser, leave empty to read them from chrome")
	manual := map[string]string{}
	for _, name := range session.RequiredNames {
		value, err := ui.Ask(name, &input.Options{HideOrder: true})
		if err != nil {
			return nil, err
		}
		value = strings.TrimSpace(value)
		if value != "" {
			manual[name] = value
		}
	}
	return manual, nil
}

func writeLocalConfig(manual map[string]string) error {
	out := map[string]any{
		"cookies": map[string]any{"manual": manual},
	}
	contents, err := jsonutil.MarshalIndent(out)
	if err != nil {
		return err
	}
	return os.WriteFile(localConfig, append(contents, '\n'), 0600)
}

func create(ctx context.Context, recreate bool, protoRoot string) error {
	_, err := os.Stat("go.mod")
	if os.IsNotExist(err) {
		return fmt.Errorf("the dev environment must be created in the repository root (the same directory as the 'go.mod' file)")
	}

	for _, dir := range []string{"data/users", "logs/messages"} {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return err
		}
	}

	err = createLedger(ctx)
	if err != nil {
		return err
	}

	if protoRoot != "" {
		err = os.MkdirAll("proto", 0755)
		if err != nil {
			return err
		}
		cmd(
			"protoc", "--include_imports",
			"--descriptor_set_out=proto/streamlit.binpb",
			"-I", protoRoot,
			"streamlit/proto/BackMsg.proto", "streamlit/proto/ForwardMsg.proto",
		)
	}

	_, err = os.Stat(localConfig)
	if err == nil && !recreate {
		fmt.Println(localConfig, "already exists, pass -recreate to overwrite it")
		return nil
	}
	manual, err := askCookies(&input.UI{Reader: os.Stdin, Writer: os.Stdout})
	if err != nil {
		return err
	}
	err = writeLocalConfig(manual)
	if err != nil {
		return err
	}
	fmt.Println("wrote", localConfig)
	return nil
}

func main() {
	recreate := flag.Bool("recreate", false, "overwrite the local config")
	protoRoot := flag.String("proto", "", "the proto directory of a streamlit checkout, rebuilds proto/streamlit.binpb with protoc")
	flag.Parse()

	err := create(context.Background(), *recreate, *protoRoot)
	if err != nil {
		slog.Error("failed to create dev environment", "err", err.Error())
		os.Exit(1)
	}

	slog.Info("dev environment created successfully!")
}
