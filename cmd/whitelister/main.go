// whitelister - Discord-driven Minecraft whitelist service and admin CLI
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/whitelister/internal/api"
	"github.com/ernie/whitelister/internal/auth"
	"github.com/ernie/whitelister/internal/bus"
	"github.com/ernie/whitelister/internal/config"
	"github.com/ernie/whitelister/internal/domain"
	"github.com/ernie/whitelister/internal/metrics"
	"github.com/ernie/whitelister/internal/service"
)

var version = "dev"

const defaultConfigPath = "/etc/whitelister/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "hash-password":
		cmdHashPassword(os.Args[2:])
	case "add":
		cmdAdd(os.Args[2:])
	case "addbedrock":
		cmdAddBedrock(os.Args[2:])
	case "remove":
		cmdRemove(os.Args[2:])
	case "list":
		cmdList(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "reload":
		cmdReload(os.Args[2:])
	case "version":
		fmt.Printf("whitelister %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: whitelister <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the whitelist service")
	fmt.Println("  token [--username NAME]             Print an admin API token")
	fmt.Println("  hash-password                       Hash a password for auth.admins (prompts)")
	fmt.Println("  add <username> [requester]          Whitelist a Java player")
	fmt.Println("  addbedrock <gamertag> <xuid> [requester]")
	fmt.Println("                                      Whitelist a Bedrock player")
	fmt.Println("  remove <username>                   Remove a Java player")
	fmt.Println("  remove --bedrock <gamertag|xuid>    Remove a Bedrock player")
	fmt.Println("  list [bedrock]                      List whitelisted players")
	fmt.Println("  status                              Show service status")
	fmt.Println("  reload                              Reload configuration")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/whitelister/config.yml)")
	fmt.Println("  --url <url>        Base URL of the whitelister server (default: derived from config)")
	fmt.Println("  --token <token>    Admin API token (default: minted from auth.jwt_secret)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  whitelister serve --config /etc/whitelister/config.yml")
	fmt.Println("  whitelister add Notch")
	fmt.Println("  whitelister addbedrock \"Steve Phone\" 2535416")
	fmt.Println("  whitelister list bedrock")
}

// cmdServe starts the whitelist service
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	// Load configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Whitelister %s starting...", version)
	if cfg.Discord.GuildID == "" || cfg.Discord.ChannelID == "" {
		log.Printf("Warning: discord guild_id/channel_id not configured, chat requests will be ignored")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := service.New(cfg, service.Options{
		ConfigPath: cfgPath,
		Metrics:    metrics.New(reg),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		log.Fatalf("Failed to start whitelist service: %v", err)
	}

	// Create auth service
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration, cfg.Auth.Admins)
	if !authService.Enabled() {
		log.Printf("Warning: No JWT secret configured. The admin API will reject every request.")
	}

	// Create HTTP router
	router := api.NewRouter(svc, authService, reg)

	// Connect the adapter bus
	var adapterBus *bus.Bus
	if cfg.NATS.URL != "" {
		adapterBus, err = bus.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		if err := adapterBus.Serve(ctx, svc); err != nil {
			log.Fatalf("Failed to serve NATS subjects: %v", err)
		}
		router.SetBus(adapterBus)
		router.AddEventSink(func(ev domain.Event) {
			if err := adapterBus.PublishEvent(ev); err != nil {
				log.Printf("Warning: %v", err)
			}
		})
	}

	router.StartWebSocketHub(ctx)

	// Start HTTP server
	addr := cfg.ListenAddress()
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Start HTTP server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for signal or error
wait:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Printf("Received SIGHUP, reloading configuration...")
				if err := svc.Reload(ctx); err != nil {
					log.Printf("Error reloading configuration: %v", err)
				}
				continue
			}
			log.Printf("Received signal %v, shutting down...", sig)
			break wait
		case err := <-serverErr:
			log.Fatalf("HTTP server error: %v", err)
		}
	}

	// Sequential shutdown
	log.Println("Shutting down HTTP server...")
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if adapterBus != nil {
		log.Println("Closing NATS connection...")
		adapterBus.Close()
	}

	log.Println("Stopping whitelist service...")
	svc.Stop()

	cancel()
	log.Println("Shutdown complete")
}

// CLI helper variables
var (
	baseURL  = "http://localhost:8085"
	apiToken string
)

// clientFlags registers the flags shared by the API client commands
func clientFlags(name string) (*flag.FlagSet, *string, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	serverURL := fs.String("url", "", "base URL of the whitelister server")
	token := fs.String("token", "", "admin API token")
	return fs, configPath, serverURL, token
}

// loadCLIConfigFromFlags loads config using pre-parsed flag values and
// prepares baseURL and apiToken
func loadCLIConfigFromFlags(configPath, serverURL, token string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
	}

	// Derive URL from config, but allow --url flag to override
	switch {
	case serverURL != "":
		baseURL = serverURL
	case cfg != nil:
		baseURL = "http://" + cfg.ListenAddress()
	}

	apiToken = token
	if apiToken == "" {
		apiToken = os.Getenv("WHITELISTER_TOKEN")
	}
	if apiToken == "" && cfg != nil {
		// the CLI shares the server's secret when run on the same host
		authService := auth.NewService(cfg.Auth.JWTSecret, time.Minute, nil)
		if t, err := authService.GenerateToken("cli", true); err == nil {
			apiToken = t
		}
	}
	return cfg
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	username := fs.String("username", "cli", "username recorded in the token")
	duration := fs.Duration("duration", 0, "token lifetime (default: auth.token_duration)")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}
	d := cfg.Auth.TokenDuration
	if *duration > 0 {
		d = *duration
	}

	token, err := auth.NewService(cfg.Auth.JWTSecret, d, nil).GenerateToken(*username, true)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Println(token)
}

func cmdHashPassword(args []string) {
	fs := flag.NewFlagSet("hash-password", flag.ExitOnError)
	fs.Parse(args)

	fmt.Print("Enter password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fatalf("failed to read password: %v", err)
	}

	if len(password) < 8 {
		fatalf("password must be at least 8 characters")
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fatalf("failed to read password: %v", err)
	}

	if string(password) != string(confirm) {
		fatalf("passwords do not match")
	}

	hash, err := auth.HashPassword(string(password))
	if err != nil {
		fatalf("failed to hash password: %v", err)
	}
	fmt.Println(hash)
}

func cmdAdd(args []string) {
	fs, configPath, serverURL, token := clientFlags("add")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *serverURL, *token)

	rest := fs.Args()
	if len(rest) < 1 {
		fatalf("usage: whitelister add <username> [requester]")
	}
	body := api.AddMemberRequest{Kind: string(domain.SpaceJava), Username: rest[0]}
	if len(rest) > 1 {
		body.RequestedBy = rest[1]
	}
	addMember(body)
}

func cmdAddBedrock(args []string) {
	fs, configPath, serverURL, token := clientFlags("addbedrock")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *serverURL, *token)

	rest := fs.Args()
	if len(rest) < 2 {
		fatalf("usage: whitelister addbedrock <gamertag> <xuid> [requester]")
	}
	body := api.AddMemberRequest{Kind: string(domain.SpaceBedrock), Username: rest[0], XUID: rest[1]}
	if len(rest) > 2 {
		body.RequestedBy = rest[2]
	}
	addMember(body)
}

func addMember(body api.AddMemberRequest) {
	var resp api.AddMemberResponse
	status, err := doJSON(http.MethodPost, "/api/members", body, &resp)
	if err != nil {
		fatalf("%v", err)
	}
	if status != http.StatusCreated {
		fatalf("%s", resp.Message)
	}
	fmt.Println(resp.Message)
}

func cmdRemove(args []string) {
	fs, configPath, serverURL, token := clientFlags("remove")
	bedrock := fs.Bool("bedrock", false, "remove a Bedrock player by gamertag or xuid")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *serverURL, *token)

	rest := fs.Args()
	if len(rest) < 1 {
		fatalf("usage: whitelister remove [--bedrock] <identifier>")
	}
	space := domain.SpaceJava
	if *bedrock {
		space = domain.SpaceBedrock
	}

	var removed domain.MemberView
	path := fmt.Sprintf("/api/members/%s/%s", space, url.PathEscape(rest[0]))
	status, err := doJSON(http.MethodDelete, path, nil, &removed)
	if err != nil {
		fatalf("%v", err)
	}
	if status == http.StatusNotFound {
		fatalf("%s is not whitelisted", rest[0])
	}
	fmt.Printf("Removed %s player %s\n", removed.Kind, removed.Username)
}

func cmdList(args []string) {
	fs, configPath, serverURL, token := clientFlags("list")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *serverURL, *token)

	path := "/api/members"
	if rest := fs.Args(); len(rest) > 0 {
		if _, err := domain.ParseSpace(rest[0]); err != nil {
			fatalf("usage: whitelister list [java|bedrock]")
		}
		path += "?space=" + strings.ToLower(rest[0])
	}

	var members []domain.MemberView
	if err := getJSON(path, &members); err != nil {
		fatalf("%v", err)
	}
	if len(members) == 0 {
		fmt.Println("No players whitelisted")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tID\tREQUESTED BY\tAPPROVED")
	fmt.Fprintln(w, "----\t----\t--\t------------\t--------")
	for _, m := range members {
		id := m.UUID
		if m.Kind == domain.SpaceBedrock {
			id = m.XUID
		}
		if id == "" {
			id = "offline"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", m.Kind, m.Username, id, m.RequestedBy, m.ApprovedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}

func cmdStatus(args []string) {
	fs, configPath, serverURL, token := clientFlags("status")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *serverURL, *token)

	var st api.StatusResponse
	if err := getJSON("/api/status", &st); err != nil {
		fatalf("%v", err)
	}

	intake := "disabled (guild/channel not configured)"
	if st.ChatIntake {
		intake = "enabled"
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Running:\t%v\n", st.Running)
	fmt.Fprintf(w, "Chat intake:\t%s\n", intake)
	fmt.Fprintf(w, "Storage:\t%s\n", st.StorageType)
	fmt.Fprintf(w, "Whitelisted:\t%s\n", st.MemberSummary())
	fmt.Fprintf(w, "Login enforced:\t%v\n", st.LoginEnforced)
	if st.BusConnected != nil {
		fmt.Fprintf(w, "NATS connected:\t%v\n", *st.BusConnected)
	}
	fmt.Fprintf(w, "Live clients:\t%d\n", st.WebSocketClients)
	fmt.Fprintf(w, "Started:\t%s\n", st.StartedAt.Local().Format(time.RFC1123))
	if st.LastReload != nil {
		fmt.Fprintf(w, "Last reload:\t%s\n", st.LastReload.Local().Format(time.RFC1123))
	}
	w.Flush()
}

func cmdReload(args []string) {
	fs, configPath, serverURL, token := clientFlags("reload")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *serverURL, *token)

	var resp map[string]string
	status, err := doJSON(http.MethodPost, "/api/reload", nil, &resp)
	if err != nil {
		fatalf("%v", err)
	}
	if status != http.StatusOK {
		fatalf("reload failed: %s", resp["error"])
	}
	fmt.Println("Configuration reloaded")
}

func getJSON(path string, target interface{}) error {
	status, err := doJSON(http.MethodGet, path, nil, target)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("server returned %d", status)
	}
	return nil
}

// doJSON sends an authenticated request and decodes the JSON response into
// target. API error bodies ({"error": ...}) become errors; other non-2xx
// bodies are decoded so callers can report the outcome.
func doJSON(method, path string, body, target interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiToken != "" {
		req.Header.Set("Authorization", "Bearer "+apiToken)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return resp.StatusCode, fmt.Errorf("server returned %d: %s (check --token or auth.jwt_secret)", resp.StatusCode, apiErr.Error)
			}
			return resp.StatusCode, fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
	}
	if target != nil && len(data) > 0 {
		if err := json.Unmarshal(data, target); err != nil {
			return resp.StatusCode, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
	}
	return resp.StatusCode, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
