package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"chat-platform/pkg/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println("cochat cli 0.1.0")
	case "health":
		runHealth()
	case "config":
		runConfig()
	case "server":
		if len(args) > 0 && args[0] == "start" {
			runProcess("./cmd/api")
		} else {
			fmt.Fprintf(os.Stderr, "Usage: cochat server start\n")
			os.Exit(1)
		}
	case "worker":
		if len(args) > 0 && args[0] == "start" {
			runProcess("./cmd/worker")
		} else {
			fmt.Fprintf(os.Stderr, "Usage: cochat worker start\n")
			os.Exit(1)
		}
	case "agent":
		runAgent(args)
	case "send":
		if len(args) < 4 {
			fmt.Fprintf(os.Stderr, "Usage: cochat send <tenant_id> <user_id> <session_id> <message> [agent_id]\n")
			os.Exit(1)
		}
		agentID := ""
		if len(args) > 4 {
			agentID = args[4]
		}
		runSend(args[0], args[1], args[2], args[3], agentID)
	case "search":
		if len(args) < 3 {
			fmt.Fprintf(os.Stderr, "Usage: cochat search <tenant_id> <user_id> <query>\n")
			os.Exit(1)
		}
		runSearch(args[0], args[1], args[2])
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: cochat <command> [args]")
	fmt.Println("  version                 - 显示版本")
	fmt.Println("  health                  - API 健康检查")
	fmt.Println("  config                  - 显示配置概要")
	fmt.Println("  server start            - 启动 API 服务（go run ./cmd/api）")
	fmt.Println("  worker start            - 启动 Worker 服务（go run ./cmd/worker）")
	fmt.Println("  agent create <tenant_id> <name> <webhook_url> - 创建 Agent")
	fmt.Println("  agent list <tenant_id>  - 列出租户的 Agent")
	fmt.Println("  send <tenant_id> <user_id> <session_id> <message> [agent_id] - 发送消息")
	fmt.Println("  search <tenant_id> <user_id> <query> - 搜索对话历史")
}

func runHealth() {
	out, err := getHealth()
	if err != nil {
		fmt.Fprintf(os.Stderr, "健康检查失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func runConfig() {
	cfg, err := config.LoadAPIConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("api.port         = %d\n", cfg.API.Port)
	fmt.Printf("store.type       = %s\n", cfg.Store.Type)
	fmt.Printf("registry.type    = %s\n", cfg.Registry.Type)
	fmt.Printf("memory.type      = %s\n", cfg.Memory.Type)
	fmt.Printf("quiet_period     = %s\n", cfg.Aggregator.QuietPeriod)
	fmt.Printf("delivery.retries = %d\n", cfg.Delivery.MaxAttempts)
}

func runProcess(pkg string) {
	cmd := exec.Command("go", "run", pkg)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "启动失败: %v\n", err)
		os.Exit(1)
	}
}

func runAgent(args []string) {
	if len(args) > 0 && args[0] == "create" {
		if len(args) < 4 {
			fmt.Fprintf(os.Stderr, "Usage: cochat agent create <tenant_id> <name> <webhook_url>\n")
			os.Exit(1)
		}
		out, err := createAgent(args[1], args[2], args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "创建 Agent 失败: %v\n", err)
			os.Exit(1)
		}
		printJSON(out)
		return
	}
	if len(args) > 0 && args[0] == "list" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "Usage: cochat agent list <tenant_id>\n")
			os.Exit(1)
		}
		out, err := listAgents(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "列出 Agent 失败: %v\n", err)
			os.Exit(1)
		}
		printJSON(out)
		return
	}
	fmt.Fprintf(os.Stderr, "Usage: cochat agent <create|list> ...\n")
	os.Exit(1)
}

func runSend(tenantID, userID, sessionID, text, agentID string) {
	out, err := sendMessage(tenantID, userID, sessionID, agentID, text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "发送失败: %v\n", err)
		os.Exit(1)
	}
	printJSON(out)
}

func runSearch(tenantID, userID, query string) {
	out, err := searchMemory(tenantID, userID, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "搜索失败: %v\n", err)
		os.Exit(1)
	}
	printJSON(out)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
