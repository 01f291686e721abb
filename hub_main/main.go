// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/caarlos0/env/v11"
	"golang.org/x/net/netutil"

	"github.com/softbridge/gamehub/chatgw"
	"github.com/softbridge/gamehub/hub"
	"github.com/softbridge/gamehub/store/rank"
	"github.com/softbridge/gamehub/store/stat"
	"github.com/softbridge/gamehub/store/warehouse"
)

type config struct {
	// Cloud stage (e.g. "prod"). Empty runs rankings and analytics
	// offline.
	Stage  string `env:"GAMEHUB_STAGE"`
	Region string `env:"AWS_REGION" envDefault:"us-east-1"`

	// Server id to hex SHA-256 digest of its channel token.
	ServerTokens map[string]string `env:"GAMEHUB_SERVER_TOKENS"`

	// Chat gateway websocket URL. Empty disables the bridge.
	ChatGateway string `env:"GAMEHUB_CHAT_GATEWAY"`
	ChatToken   string `env:"GAMEHUB_CHAT_TOKEN"`

	StatDB     string `env:"GAMEHUB_STAT_DB" envDefault:"gamehub.db"`
	FailureLog string `env:"GAMEHUB_FAILURE_LOG" envDefault:"permanent-failures.csv"`
}

func main() {
	var (
		port           int
		maxConnections int
	)

	flag.IntVar(&port, "port", 8192, "http service port")
	flag.IntVar(&maxConnections, "max-connections", 256, "maximum number of inbound TCP connections")
	flag.Parse()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal("config: ", err)
	}
	if len(cfg.ServerTokens) == 0 {
		log.Fatal("config: GAMEHUB_SERVER_TOKENS is required")
	}

	store, err := stat.OpenSQLite(cfg.StatDB, 4)
	if err != nil {
		log.Fatal("stat store: ", err)
	}
	defer store.Close()

	var ranker rank.Ranker
	var appender warehouse.Appender

	if cfg.Stage == "" {
		// Cloud is not required for the hub to function.
		log.Println("no stage configured, rankings and analytics are offline")
		ranker = rank.Offline{}
		appender = warehouse.Offline{}
	} else {
		sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Region)})
		if err != nil {
			log.Fatal("aws session: ", err)
		}
		if ranker, err = rank.NewDynamoRanker(sess, cfg.Stage); err != nil {
			log.Fatal("ranker: ", err)
		}
		if appender, err = warehouse.NewS3Appender(sess, cfg.Stage); err != nil {
			log.Fatal("appender: ", err)
		}
	}

	registry := hub.NewRegistry()
	router := hub.NewRouter(registry, digestAuthenticator(cfg.ServerTokens))

	leaderboard := hub.NewLeaderboard(ranker, registry.Metrics, 0)
	router.Subscribe("leaderboard", 64, hub.BlockWithTimeout, leaderboard.Run,
		hub.KindStatDelta)

	statWriter := hub.NewStatWriter(store, registry.Metrics, hub.StatWriterOptions{
		FailureLog: cfg.FailureLog,
	})
	router.Subscribe("statstore", 64, hub.BlockWithTimeout, statWriter.Run,
		hub.KindStatDelta)

	sink := hub.NewAnalyticsSink(appender, registry.Metrics, hub.AnalyticsSinkOptions{})
	router.Subscribe("analytics", 256, hub.DropOldest, sink.Run,
		hub.KindPlayerJoined, hub.KindPlayerLeft, hub.KindChat,
		hub.KindStatDelta, hub.KindAdminAction)

	if cfg.ChatGateway == "" {
		log.Println("no chat gateway configured, bridge disabled")
	} else {
		bridge := hub.NewChatBridge(&chatgw.WebsocketGateway{
			URL:   cfg.ChatGateway,
			Token: cfg.ChatToken,
		}, registry, hub.ChatBridgeOptions{})
		router.Subscribe("chatbridge", 64, hub.BlockWithTimeout, bridge.Run,
			hub.KindChat, hub.KindPlayerJoined, hub.KindPlayerLeft,
			hub.KindAdminAction)
	}

	go router.Run()

	http.HandleFunc("/", router.ServeStatus)
	http.HandleFunc("/ws", router.ServeSocket)
	http.HandleFunc("/leaderboard", serveLeaderboard(leaderboard))
	http.HandleFunc("/stat", serveStat(statWriter))

	l, err := net.Listen("tcp", fmt.Sprint(":", port))
	if err != nil {
		log.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	l = netutil.LimitListener(l, maxConnections)

	log.Println("gamehub started on port", port)
	log.Fatal("ListenAndServe: ", http.Serve(l, nil))
}

// digestAuthenticator compares the SHA-256 of a presented token against
// the configured hex digest in constant time. Raw tokens are never
// stored or logged.
func digestAuthenticator(tokens map[string]string) hub.Authenticator {
	return func(serverID, token string) bool {
		want, err := hex.DecodeString(tokens[serverID])
		if err != nil || len(want) != sha256.Size {
			return false
		}
		got := sha256.Sum256([]byte(token))
		return subtle.ConstantTimeCompare(got[:], want) == 1
	}
}

func serveLeaderboard(leaderboard *hub.Leaderboard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.URL.Query().Get("player")
		metric := r.URL.Query().Get("metric")
		if playerID == "" || metric == "" {
			http.Error(w, "player and metric are required", http.StatusBadRequest)
			return
		}

		result, err := leaderboard.Query(playerID, metric)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, result)
	}
}

func serveStat(statWriter *hub.StatWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		key := stat.Key{
			ServerID: query.Get("server"),
			PlayerID: query.Get("player"),
			Metric:   query.Get("metric"),
		}
		if key.ServerID == "" || key.PlayerID == "" || key.Metric == "" {
			http.Error(w, "server, player and metric are required", http.StatusBadRequest)
			return
		}

		record, err := statWriter.Read(key)
		if errors.Is(err, stat.ErrNoData) {
			http.Error(w, "no data", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		writeJSON(w, record)
	}
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Println("response encode error:", err)
	}
}
