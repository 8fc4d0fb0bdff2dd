package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/halcyonchat/halcyon/internal/bus"
	"github.com/halcyonchat/halcyon/internal/client"
	"github.com/halcyonchat/halcyon/internal/config"
	"github.com/halcyonchat/halcyon/internal/logging"
	"github.com/halcyonchat/halcyon/internal/wire"
)

func main() {
	_ = godotenv.Load()

	dataDir := flag.String("data-dir", "", "data directory (default ~/.halcyon)")
	userFlag := flag.String("user", "", "account username")
	passFlag := flag.String("password", "", "account password")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	dir := *dataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		dir = filepath.Join(home, ".halcyon")
	}

	cfg, err := config.Load(filepath.Join(dir, "config.toml"), dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Client.LogFile, "halcyonctl")
	if err != nil {
		logger = zap.NewNop()
	}

	key, err := wire.LoadKey(cfg.Client.KeyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	cipher, err := wire.NewCipher(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	b := bus.New()
	l, err := client.Dial(context.Background(), logger, wire.NewCodec(cipher), b, client.Options{
		Addr:        cfg.Client.ServerAddr,
		DownloadDir: cfg.Client.DownloadDir,
		Timeout:     cfg.Client.RequestTimeout(),
		Attempts:    cfg.Client.ConnectAttempts,
		Delay:       cfg.Client.ConnectDelay(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to %s: %v\n", cfg.Client.ServerAddr, err)
		os.Exit(1)
	}
	defer func() { _ = l.Exit() }()

	// Signup runs unauthenticated; everything else logs in first.
	if args[0] == "register" {
		cmdRegister(l, dir)
		return
	}
	if *userFlag == "" || *passFlag == "" {
		fmt.Fprintln(os.Stderr, "error: --user and --password are required")
		os.Exit(1)
	}
	if err := l.Authenticate(*userFlag, *passFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	switch args[0] {
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl send <friend> <message>")
			os.Exit(1)
		}
		cmdSend(l, args[1], strings.Join(args[2:], " "))
	case "send-file":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl send-file <friend> <path> [type]")
			os.Exit(1)
		}
		fileType := "file"
		if len(args) >= 4 {
			fileType = args[3]
		}
		cmdSendFile(l, args[1], args[2], fileType, *jsonFlag)
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl history <friend> [page]")
			os.Exit(1)
		}
		page := 1
		if len(args) >= 3 {
			page, _ = strconv.Atoi(args[2])
		}
		cmdHistory(l, *userFlag, args[1], page, *jsonFlag)
	case "info":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl info <username>")
			os.Exit(1)
		}
		cmdInfo(l, args[1], *jsonFlag)
	case "add-friend":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl add-friend <username>")
			os.Exit(1)
		}
		cmdAddFriend(l, *userFlag, args[1])
	case "remarks":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl remarks <friend> <remark>")
			os.Exit(1)
		}
		cmdRemarks(l, *userFlag, args[1], strings.Join(args[2:], " "))
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl delete <rowid> [rowid...]")
			os.Exit(1)
		}
		cmdDelete(l, args[1:])
	case "download":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: halcyonctl download <type> <file_id> [file_id...]")
			os.Exit(1)
		}
		cmdDownload(l, args[1], args[2:])
	case "listen":
		cmdListen(l, b)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: halcyonctl [--data-dir <dir>] [--user <u> --password <p>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  register                      Create a new account")
	fmt.Fprintln(os.Stderr, "  send <friend> <message>       Send a text message")
	fmt.Fprintln(os.Stderr, "  send-file <friend> <path>     Send a file")
	fmt.Fprintln(os.Stderr, "  history <friend> [page]       Show chat history, newest first")
	fmt.Fprintln(os.Stderr, "  info <username>               Show a user's profile")
	fmt.Fprintln(os.Stderr, "  add-friend <username>         Add a friend")
	fmt.Fprintln(os.Stderr, "  remarks <friend> <remark>     Set your remark for a friend")
	fmt.Fprintln(os.Stderr, "  delete <rowid>...             Delete your messages")
	fmt.Fprintln(os.Stderr, "  download <type> <file_id>...  Download media files")
	fmt.Fprintln(os.Stderr, "  listen                        Print incoming pushes until interrupted")
}

func cmdRegister(l *client.Link, dataDir string) {
	reg, err := l.RegisterBegin()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	captchaPath := filepath.Join(dataDir, "captcha.png")
	if err := os.WriteFile(captchaPath, reg.CaptchaImage, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Assigned username: %s\n", reg.Username)
	fmt.Printf("Captcha saved to %s\n", captchaPath)

	in := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Captcha answer (or 'refresh'): ")
		line, err := in.ReadString('\n')
		if err != nil {
			os.Exit(1)
		}
		answer := strings.TrimSpace(line)
		if answer == "refresh" {
			if err := l.RegisterRefresh(reg); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				os.Exit(1)
			}
			_ = os.WriteFile(captchaPath, reg.CaptchaImage, 0600)
			fmt.Printf("New captcha saved to %s\n", captchaPath)
			continue
		}
		ok, err := l.RegisterVerify(reg, answer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if ok {
			break
		}
		_ = os.WriteFile(captchaPath, reg.CaptchaImage, 0600)
		fmt.Printf("Wrong answer; new captcha saved to %s\n", captchaPath)
	}

	fmt.Print("Password (min 8 chars, one uppercase, one digit): ")
	password, _ := in.ReadString('\n')
	fmt.Print("Nickname: ")
	nickname, _ := in.ReadString('\n')
	fmt.Print("Signature: ")
	sign, _ := in.ReadString('\n')

	err = l.RegisterSubmit(reg, strings.TrimSpace(password),
		strings.TrimSpace(nickname), strings.TrimSpace(sign), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Registered. Log in with --user %s\n", reg.Username)
}

func cmdSend(l *client.Link, to, text string) {
	rowID, err := l.SendMessage(to, text, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Sent (rowid %d)\n", rowID)
}

func cmdSendFile(l *client.Link, to, path, fileType string, jsonOut bool) {
	resp, err := l.SendMediaFile(to, path, fileType, "", 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Sent %s (file_id %s, rowid %d)\n", filepath.Base(path),
		resp.String("file_id"), resp.Int64("rowid"))
}

func cmdHistory(l *client.Link, username, friend string, page int, jsonOut bool) {
	records, err := l.ChatHistory(username, friend, page, 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(records)
		return
	}
	if len(records) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, r := range records {
		body := r.String("message")
		if t := r.String("attachment_type"); t != "" {
			body = fmt.Sprintf("[%s] %s", t, r.String("original_file_name"))
		}
		fmt.Printf("%s  %-12s %s\n", r.String("write_time"), r.String("username"), body)
	}
}

func cmdInfo(l *client.Link, username string, jsonOut bool) {
	info, err := l.GetUserInfo(username)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if jsonOut {
		outputJSON(info)
		return
	}
	fmt.Printf("Username: %s\n", info.Username)
	fmt.Printf("Name:     %s\n", info.Name)
	fmt.Printf("Sign:     %s\n", info.Sign)
	if info.AvatarID != "" {
		fmt.Printf("Avatar:   %s\n", info.AvatarID)
	}
}

func cmdAddFriend(l *client.Link, username, friend string) {
	if err := l.AddFriend(username, friend); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s added as a friend\n", friend)
}

func cmdRemarks(l *client.Link, username, friend, remark string) {
	display, err := l.UpdateRemarks(username, friend, remark)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s now shows as %q\n", friend, display)
}

func cmdDelete(l *client.Link, args []string) {
	rowIDs := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: bad rowid %q\n", a)
			os.Exit(1)
		}
		rowIDs = append(rowIDs, id)
	}
	deleted, err := l.DeleteMessages(rowIDs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Deleted %d message(s)\n", len(deleted))
}

func cmdDownload(l *client.Link, downloadType string, fileIDs []string) {
	results := l.Download(downloadType, fileIDs)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%-30s error: %v\n", r.FileID, r.Err)
			continue
		}
		fmt.Printf("%-30s -> %s\n", r.FileID, r.Path)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func cmdListen(l *client.Link, b *bus.Bus) {
	events, cancel := b.Subscribe("", 64)
	defer cancel()
	fmt.Println("Listening for pushes; Ctrl-C to stop.")
	for {
		select {
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case bus.MessagePayload:
				fmt.Printf("[%s] %s: %s\n", p.WriteTime, p.Sender, p.Text)
			case bus.MediaPayload:
				fmt.Printf("[%s] %s sent %s (%s, file_id %s)\n",
					p.WriteTime, p.Sender, p.FileName, p.FileType, p.FileID)
			case bus.DeletedPayload:
				fmt.Printf("%s deleted %d message(s)\n", p.Peer, len(p.RowIDs))
			case bus.FriendPayload:
				state := "offline"
				if p.Online {
					state = "online"
				}
				fmt.Printf("%s (%s) is %s\n", p.Username, p.Name, state)
			}
		case <-l.Done():
			fmt.Fprintln(os.Stderr, "connection closed")
			return
		}
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
