package app

import (
	"fmt"
	"sort"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はトークン発行APIを起動する。引数なしの場合の既定。
	CommandServe Command = "serve"
	// CommandWorker は失効済みトークンと放置セッションの定期削除を起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は起動中のAPIの/healthを確認する。
	// シェルの無いdistrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// Invocation は解析済みのサブコマンドとその引数。
type Invocation struct {
	Command Command
	Args    []string
}

// ParseCommand はコマンドライン引数（os.Args[1:]）からサブコマンドを解析する。
// 引数が空の場合はserve。未知のサブコマンドはエラーとし、誤った起動モードで動かないようにする。
func ParseCommand(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}, nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		return Invocation{}, fmt.Errorf("unknown command %q (available: %s)", args[0], availableCommands())
	}
	return Invocation{Command: cmd, Args: args[1:]}, nil
}

func availableCommands() string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// migrateAction はmigrateサブコマンドの動作。
type migrateAction string

const (
	migrateUp      migrateAction = "up"
	migrateVersion migrateAction = "version"
)

// parseMigrateAction はmigrateに続く引数を解釈する。省略時はup。
func parseMigrateAction(args []string) (migrateAction, error) {
	if len(args) == 0 {
		return migrateUp, nil
	}
	switch a := migrateAction(args[0]); a {
	case migrateUp, migrateVersion:
		return a, nil
	default:
		return "", fmt.Errorf("unknown migrate action %q (available: up, version)", args[0])
	}
}
